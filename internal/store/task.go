package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
)

// TaskStore persists task records.
type TaskStore interface {
	// Create saves a new task.
	Create(ctx context.Context, task *domain.Task) error

	// Get retrieves a task by its ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByOwner returns an account's tasks, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Task, error)

	// CompareAndSwap overwrites the stored task with next only if the stored
	// status still equals expected. Returns ErrConflict otherwise, and
	// ErrTaskNotFound if the task does not exist.
	CompareAndSwap(ctx context.Context, expected domain.TaskStatus, next *domain.Task) error

	// ListStale returns tasks in one of the given statuses whose last update
	// happened before the cutoff, oldest first.
	ListStale(ctx context.Context, statuses []domain.TaskStatus, updatedBefore time.Time, limit int) ([]*domain.Task, error)
}

// ReconciliationStore is the durable log of refunds that need manual repair.
type ReconciliationStore interface {
	// Record appends an entry.
	Record(ctx context.Context, entry *domain.ReconciliationEntry) error

	// ListOpen returns unresolved entries, oldest first.
	ListOpen(ctx context.Context, limit int) ([]*domain.ReconciliationEntry, error)
}
