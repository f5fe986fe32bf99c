package memstore

import (
	"context"
	"sync"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// ReconciliationStore is an append-only slice of entries.
type ReconciliationStore struct {
	mu      sync.Mutex
	entries []*domain.ReconciliationEntry
}

var _ store.ReconciliationStore = (*ReconciliationStore)(nil)

// NewReconciliationStore returns an empty ReconciliationStore.
func NewReconciliationStore() *ReconciliationStore {
	return &ReconciliationStore{}
}

// Record implements store.ReconciliationStore.
func (s *ReconciliationStore) Record(ctx context.Context, entry *domain.ReconciliationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

// ListOpen implements store.ReconciliationStore.
func (s *ReconciliationStore) ListOpen(ctx context.Context, limit int) ([]*domain.ReconciliationEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ReconciliationEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ResolvedAt != nil {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
