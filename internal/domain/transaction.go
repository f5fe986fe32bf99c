package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TransactionType encodes the direction of a ledger entry.
type TransactionType string

// Possible transaction types
const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPayment    TransactionType = "payment"
	TransactionRefund     TransactionType = "refund"
)

// TransactionStatus represents the lifecycle state of a ledger entry.
type TransactionStatus string

// Possible transaction status values
const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionReversed  TransactionStatus = "reversed"
)

// maxAccountIDLength bounds the opaque account identifier.
const maxAccountIDLength = 128

// Transaction is an append-only ledger entry. Amount is always positive;
// the direction is carried by Type.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Amount      Amount            `json:"amount"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	Reference   string            `json:"reference,omitempty"`
	Error       string            `json:"error,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewTransactionID returns an identifier of the form tx_<32 hex chars>.
func NewTransactionID() string {
	return "tx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTransaction creates a pending transaction after validating its inputs.
func NewTransaction(
	accountID string,
	amount Amount,
	txType TransactionType,
	description string,
) (*Transaction, error) {
	if err := ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if amount > MaxAmount {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount, MaxAmount)
	}
	if !isValidTransactionType(txType) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, txType)
	}

	return &Transaction{
		ID:          NewTransactionID(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        txType,
		Status:      TransactionPending,
		Description: description,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// IsDebit reports whether the entry lowers the balance.
func (t *Transaction) IsDebit() bool {
	return t.Type == TransactionWithdrawal || t.Type == TransactionPayment
}

// Delta returns the signed effect of the entry on the account balance.
func (t *Transaction) Delta() Amount {
	if t.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

// Refundable reports whether a refund may be issued against this entry.
func (t *Transaction) Refundable() error {
	if !t.IsDebit() {
		return fmt.Errorf("%w: %s is a %s", ErrNotRefundable, t.ID, t.Type)
	}
	switch t.Status {
	case TransactionCompleted:
		return nil
	case TransactionReversed:
		return fmt.Errorf("%w: %s", ErrAlreadyReversed, t.ID)
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotRefundable, t.ID, t.Status)
	}
}

// ValidateAccountID checks that an account identifier is usable as a ledger key.
func ValidateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: account id is empty", ErrInvalidAccount)
	}
	if utf8.RuneCountInString(accountID) > maxAccountIDLength {
		return fmt.Errorf("%w: account id longer than %d characters", ErrInvalidAccount, maxAccountIDLength)
	}
	return nil
}

func isValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionDeposit, TransactionWithdrawal, TransactionPayment, TransactionRefund:
		return true
	default:
		return false
	}
}
