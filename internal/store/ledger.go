package store

import (
	"context"

	"github.com/phrazzld/tollgate/internal/domain"
)

// LedgerStore persists account balances and their transaction log.
// Every mutating method is atomic: the pending transaction row, the balance
// change and the completed status either all commit or none do.
type LedgerStore interface {
	// Balance returns the current balance, or zero for an unknown account.
	Balance(ctx context.Context, accountID string) (domain.Amount, error)

	// Credit records entry and adds its amount to the account balance,
	// creating the balance row on first use. Returns the new balance.
	Credit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error)

	// Debit subtracts entry's amount from the balance after checking funds
	// inside the same critical section. Returns domain.ErrInsufficientFunds
	// without writing anything when the balance is too low.
	Debit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error)

	// Reverse credits refund back to the owner of originalID and marks the
	// original debit as reversed. Returns domain.ErrAlreadyReversed when the
	// original was already refunded.
	Reverse(ctx context.Context, originalID string, refund *domain.Transaction) (domain.Amount, error)

	// GetTransaction retrieves a transaction by ID.
	// Returns ErrLedgerEntryNotFound if it does not exist.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListTransactions returns an account's transactions, newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error)
}
