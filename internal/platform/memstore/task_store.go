package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// TaskStore keeps task records in a map guarded by a mutex. Records are
// copied on the way in and out so callers never share memory with the store.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore returns an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// ListByOwner implements store.TaskStore.
func (s *TaskStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, copyTask(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompareAndSwap implements store.TaskStore.
func (s *TaskStore) CompareAndSwap(ctx context.Context, expected domain.TaskStatus, next *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[next.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if current.Status != expected {
		return fmt.Errorf("%w: task %s is %s, expected %s", store.ErrConflict, next.ID, current.Status, expected)
	}
	s.tasks[next.ID] = copyTask(next)
	return nil
}

// ListStale implements store.TaskStore.
func (s *TaskStore) ListStale(
	ctx context.Context,
	statuses []domain.TaskStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[domain.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	s.mu.RLock()
	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if wanted[t.Status] && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, copyTask(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyTask(t *domain.Task) *domain.Task {
	cp := *t
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}
