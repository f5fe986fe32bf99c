package ledger

import (
	"errors"
	"fmt"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// LedgerError wraps unexpected failures from the ledger with the operation
// that produced them.
type LedgerError struct {
	Operation string
	AccountID string
	Err       error
}

// Error implements the error interface for LedgerError.
func (e *LedgerError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("ledger %s for account %s failed: %v", e.Operation, e.AccountID, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// passthrough lists the errors callers are expected to branch on.
var passthrough = []error{
	domain.ErrInvalidAmount,
	domain.ErrInsufficientFunds,
	domain.ErrInvalidAccount,
	domain.ErrAlreadyReversed,
	domain.ErrNotRefundable,
	domain.ErrTransactionNotFound,
	domain.ErrValidation,
}

// wrapError returns domain sentinels unchanged, maps store not-found errors
// to domain.ErrTransactionNotFound and wraps everything else.
func wrapError(operation, accountID string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range passthrough {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, store.ErrLedgerEntryNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrTransactionNotFound, err)
	}
	return &LedgerError{Operation: operation, AccountID: accountID, Err: err}
}
