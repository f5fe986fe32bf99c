package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// amountScale is the number of fractional digits carried by an Amount.
const amountScale = 2

// MaxAmount is the largest magnitude a single parsed amount or transaction may
// carry: ten trillion units.
const MaxAmount Amount = 1_000_000_000_000_000

// Amount is a money value stored as an integer number of cents.
// All ledger arithmetic happens on the integer; decimal.Decimal is only used
// at the edges to parse and print values.
type Amount int64

// NewAmount builds an Amount from whole units and cents, e.g. NewAmount(10, 50) is 10.50.
func NewAmount(units int64, cents int64) Amount {
	return Amount(units*100 + cents)
}

// ParseAmount parses a decimal string such as "10", "10.5" or "10.50".
// More than two fractional digits is rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a decimal value to cents.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	cents := d.Shift(amountScale)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, d, amountScale)
	}
	if !cents.BigInt().IsInt64() || cents.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return Amount(cents.IntPart()), nil
}

// Add returns a+b, or ErrInvalidAmount when the sum does not fit in an Amount.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, a, b)
	}
	return a + b, nil
}

// Cents returns the raw integer value.
func (a Amount) Cents() int64 {
	return int64(a)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}

// Decimal returns the amount as a decimal with two fractional digits.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -amountScale)
}

// String formats the amount with exactly two fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(amountScale)
}

// MarshalJSON encodes the amount as a string to keep it out of float parsing.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "10.00" and 10.00.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("%w: null", ErrInvalidAmount)
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		raw = s
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
