package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/store"
)

// maxCASAttempts bounds how often Transition re-reads a task after losing a
// compare-and-swap race.
const maxCASAttempts = 8

// Registry creates task records and moves them through the state machine.
type Registry struct {
	store  store.TaskStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry backed by s.
// If logger is nil, a default logger will be used.
func NewRegistry(s store.TaskStore, logger *slog.Logger) (*Registry, error) {
	if s == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		logger: logger.With(slog.String("component", "task_registry")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateOption customizes a task before it is stored.
type CreateOption func(*domain.Task)

// WithID fixes the task ID, so a payment can reference the task before it exists.
func WithID(id uuid.UUID) CreateOption {
	return func(t *domain.Task) { t.ID = id }
}

// WithChargeTx records the payment transaction that paid for the task.
func WithChargeTx(txID string) CreateOption {
	return func(t *domain.Task) { t.ChargeTxID = txID }
}

// Create stores a new task in the NEW state.
func (r *Registry) Create(
	ctx context.Context,
	ownerID, payload string,
	cost domain.Amount,
	opts ...CreateOption,
) (*domain.Task, error) {
	t, err := domain.NewTask(ownerID, payload, cost)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := r.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	logger.FromContextOrDefault(ctx, r.logger).Debug("task created",
		slog.String("task_id", t.ID.String()),
		slog.String("owner_account_id", ownerID),
		slog.String("cost", cost.String()))
	return t, nil
}

// Get returns a task or domain.ErrTaskNotFound.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return t, nil
}

// ListByOwner returns the owner's tasks, newest first.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Task, error) {
	if err := domain.ValidateAccountID(ownerID); err != nil {
		return nil, err
	}
	tasks, err := r.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// TransitionOption carries the data that accompanies some transitions.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	result string
	reason string
}

// WithResult sets the result stored when entering COMPLETED.
func WithResult(result string) TransitionOption {
	return func(o *transitionOptions) { o.result = result }
}

// WithReason sets the error stored when entering FAILED.
func WithReason(reason string) TransitionOption {
	return func(o *transitionOptions) { o.reason = reason }
}

// Transition moves a task to status to. Illegal edges return
// domain.ErrInvalidTransition and leave the record untouched. When another
// writer changes the task first, the new state is re-read and the edge
// re-checked against it.
func (r *Registry) Transition(
	ctx context.Context,
	id uuid.UUID,
	to domain.TaskStatus,
	opts ...TransitionOption,
) (*domain.Task, error) {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.FromContextOrDefault(ctx, r.logger)

	for attempt := 1; ; attempt++ {
		current, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, mapStoreError(err)
		}

		next := *current
		now := r.now()
		switch to {
		case domain.TaskStatusCompleted:
			err = next.Complete(o.result, now)
		case domain.TaskStatusFailed:
			err = next.Fail(o.reason, now)
		default:
			err = next.TransitionTo(to, now)
		}
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}

		err = r.store.CompareAndSwap(ctx, current.Status, &next)
		if err == nil {
			log.Info("task status changed",
				slog.String("task_id", id.String()),
				slog.String("from", string(current.Status)),
				slog.String("to", string(to)))
			return &next, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, mapStoreError(err)
		}
		if attempt >= maxCASAttempts {
			return nil, fmt.Errorf("task %s: gave up after %d conflicting updates: %w", id, attempt, err)
		}
		log.Debug("task changed concurrently, retrying transition",
			slog.String("task_id", id.String()),
			slog.Int("attempt", attempt))
	}
}

// MarkQueued records that the task was handed to the broker.
func (r *Registry) MarkQueued(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return r.Transition(ctx, id, domain.TaskStatusQueued)
}

// MarkProcessing records that a worker picked the task up.
func (r *Registry) MarkProcessing(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return r.Transition(ctx, id, domain.TaskStatusProcessing)
}

// Complete moves a PROCESSING task to COMPLETED with its result.
func (r *Registry) Complete(ctx context.Context, id uuid.UUID, result string) (*domain.Task, error) {
	return r.Transition(ctx, id, domain.TaskStatusCompleted, WithResult(result))
}

// Fail moves a task to FAILED with the given reason.
func (r *Registry) Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error) {
	return r.Transition(ctx, id, domain.TaskStatusFailed, WithReason(reason))
}

// ListStale returns tasks in one of statuses that have not changed for at
// least olderThan, oldest first.
func (r *Registry) ListStale(
	ctx context.Context,
	statuses []domain.TaskStatus,
	olderThan time.Duration,
	limit int,
) ([]*domain.Task, error) {
	tasks, err := r.store.ListStale(ctx, statuses, r.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	return tasks, nil
}

func mapStoreError(err error) error {
	if store.IsNotFoundError(err) {
		return fmt.Errorf("%w: %v", domain.ErrTaskNotFound, err)
	}
	return err
}
