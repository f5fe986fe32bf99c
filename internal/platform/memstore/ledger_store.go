package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// LedgerStore keeps balances and transactions in maps guarded by one mutex.
type LedgerStore struct {
	mu        sync.Mutex
	balances  map[string]domain.Amount
	txs       map[string]*domain.Transaction
	byAccount map[string][]string
}

var _ store.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore returns an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		balances:  make(map[string]domain.Amount),
		txs:       make(map[string]*domain.Transaction),
		byAccount: make(map[string][]string),
	}
}

// Balance implements store.LedgerStore.
func (s *LedgerStore) Balance(ctx context.Context, accountID string) (domain.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[accountID], nil
}

// Credit implements store.LedgerStore.
func (s *LedgerStore) Credit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.balances[entry.AccountID].Add(entry.Amount)
	if err != nil {
		return s.balances[entry.AccountID], err
	}
	if err := s.insertLocked(entry); err != nil {
		return 0, err
	}
	s.balances[entry.AccountID] = balance
	entry.Status = domain.TransactionCompleted
	s.txs[entry.ID].Status = domain.TransactionCompleted
	return s.balances[entry.AccountID], nil
}

// Debit implements store.LedgerStore.
func (s *LedgerStore) Debit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[entry.AccountID]
	if balance < entry.Amount {
		return balance, fmt.Errorf("%w: balance %s, requested %s",
			domain.ErrInsufficientFunds, balance, entry.Amount)
	}
	if err := s.insertLocked(entry); err != nil {
		return 0, err
	}
	s.balances[entry.AccountID] = balance - entry.Amount
	entry.Status = domain.TransactionCompleted
	s.txs[entry.ID].Status = domain.TransactionCompleted
	return s.balances[entry.AccountID], nil
}

// Reverse implements store.LedgerStore.
func (s *LedgerStore) Reverse(ctx context.Context, originalID string, refund *domain.Transaction) (domain.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.txs[originalID]
	if !ok {
		return 0, store.ErrLedgerEntryNotFound
	}
	if err := original.Refundable(); err != nil {
		return 0, err
	}
	if refund.AccountID != original.AccountID || refund.Amount != original.Amount {
		return 0, fmt.Errorf("%w: refund does not match %s", store.ErrInvalidEntity, originalID)
	}

	balance, err := s.balances[refund.AccountID].Add(refund.Amount)
	if err != nil {
		return s.balances[refund.AccountID], err
	}
	if err := s.insertLocked(refund); err != nil {
		return 0, err
	}
	s.balances[refund.AccountID] = balance
	refund.Status = domain.TransactionCompleted
	s.txs[refund.ID].Status = domain.TransactionCompleted
	original.Status = domain.TransactionReversed
	return s.balances[refund.AccountID], nil
}

// GetTransaction implements store.LedgerStore.
func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrLedgerEntryNotFound
	}
	cp := *tx
	return &cp, nil
}

// ListTransactions implements store.LedgerStore.
func (s *LedgerStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byAccount[accountID]
	out := make([]*domain.Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *s.txs[ids[i]]
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LedgerStore) insertLocked(entry *domain.Transaction) error {
	if _, exists := s.txs[entry.ID]; exists {
		return fmt.Errorf("%w: transaction %s", store.ErrDuplicate, entry.ID)
	}
	cp := *entry
	cp.Status = domain.TransactionPending
	s.txs[entry.ID] = &cp
	s.byAccount[entry.AccountID] = append(s.byAccount[entry.AccountID], entry.ID)
	return nil
}
