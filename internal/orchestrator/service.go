package orchestrator

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
	"github.com/phrazzld/tollgate/internal/task"
)

// Ledger is the part of the ledger the pipeline needs.
type Ledger interface {
	Pay(ctx context.Context, accountID string, amount domain.Amount, reference, description string) (string, error)
	Refund(ctx context.Context, originalTxID, description string) (string, error)
}

// Tasks is the part of the task registry the pipeline needs.
type Tasks interface {
	Create(ctx context.Context, ownerID, payload string, cost domain.Amount, opts ...task.CreateOption) (*domain.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Task, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Complete(ctx context.Context, id uuid.UUID, result string) (*domain.Task, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error)
	ListStale(ctx context.Context, statuses []domain.TaskStatus, olderThan time.Duration, limit int) ([]*domain.Task, error)
}

// Dispatcher hands tasks to workers.
type Dispatcher interface {
	Publish(ctx context.Context, t *domain.Task) (*domain.Task, error)
	Call(ctx context.Context, t *domain.Task, timeout time.Duration) (string, error)
}

// Config holds the pipeline's tunables.
type Config struct {
	// Cost is charged for every submitted task.
	Cost domain.Amount
	// DefaultTimeout applies to SubmitAndWait calls that pass no timeout.
	DefaultTimeout time.Duration
	// MaxTimeout is the longest wait SubmitAndWait accepts.
	MaxTimeout time.Duration
	// MaxPayloadBytes bounds the payload size.
	MaxPayloadBytes int
	// RefundAttempts is the total number of refund attempts, at least 1.
	RefundAttempts uint64
	// RefundBackoff is the first retry delay; later delays double.
	RefundBackoff time.Duration
}

// Service is the admission pipeline.
type Service struct {
	ledger         Ledger
	tasks          Tasks
	dispatcher     Dispatcher
	reconciliation store.ReconciliationStore
	cfg            Config
	logger         *slog.Logger
}

// NewService wires the pipeline. reconciliation may be nil, in which case
// unrecoverable refunds are only logged.
func NewService(
	ledger Ledger,
	tasks Tasks,
	dispatcher Dispatcher,
	reconciliation store.ReconciliationStore,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("tasks cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if cfg.Cost < 0 {
		return nil, fmt.Errorf("%w: negative task cost", domain.ErrInvalidAmount)
	}
	if cfg.RefundAttempts == 0 {
		cfg.RefundAttempts = 1
	}
	if cfg.RefundBackoff <= 0 {
		cfg.RefundBackoff = 100 * time.Millisecond
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		cfg.MaxTimeout = cfg.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:         ledger,
		tasks:          tasks,
		dispatcher:     dispatcher,
		reconciliation: reconciliation,
		cfg:            cfg,
		logger:         logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// Submit charges the account, creates the task and publishes it for
// fire-and-forget processing. A failed charge leaves no task behind. A failed
// publish fails the task and refunds the charge before returning
// domain.ErrDispatchFailed.
func (s *Service) Submit(ctx context.Context, accountID, payload string) (uuid.UUID, error) {
	t, err := s.admit(ctx, accountID, payload)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := s.dispatcher.Publish(ctx, t); err != nil {
		_, err = s.abort(ctx, t, err)
		return t.ID, err
	}
	return t.ID, nil
}

// SubmitAndWait admits the task like Submit and then waits up to timeout
// for the worker's reply. Zero means the configured default. On timeout or a
// worker error the task is failed and refunded, and the failed record is
// returned alongside the error.
func (s *Service) SubmitAndWait(ctx context.Context, accountID, payload string, timeout time.Duration) (*domain.Task, error) {
	if timeout == 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout < 0 || timeout > s.cfg.MaxTimeout {
		return nil, fmt.Errorf("%w: timeout must be between 0 and %s", domain.ErrValidation, s.cfg.MaxTimeout)
	}

	t, err := s.admit(ctx, accountID, payload)
	if err != nil {
		return nil, err
	}

	result, err := s.dispatcher.Call(ctx, t, timeout)
	if err != nil {
		return s.abort(ctx, t, err)
	}

	done, err := s.SetResult(context.WithoutCancel(ctx), t.ID, result)
	if err != nil {
		// The task settled some other way while we waited, e.g. the reaper
		// failed and refunded it.
		current, gerr := s.tasks.Get(context.WithoutCancel(ctx), t.ID)
		if gerr != nil {
			return nil, err
		}
		return current, err
	}
	return done, nil
}

// SetResult records a worker's result. A result for a COMPLETED task is
// ignored and the stored record returned. A FAILED task has already been
// refunded and rejects the result with domain.ErrInvalidTransition. A QUEUED
// task is walked through PROCESSING to COMPLETED.
func (s *Service) SetResult(ctx context.Context, taskID uuid.UUID, result string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case domain.TaskStatusCompleted:
		log.Info("ignoring duplicate result for completed task", slog.String("task_id", taskID.String()))
		return t, nil
	case domain.TaskStatusFailed:
		log.Warn("rejecting late result for failed task", slog.String("task_id", taskID.String()))
		return nil, fmt.Errorf("%w: task %s already failed", domain.ErrInvalidTransition, taskID)
	case domain.TaskStatusQueued:
		if _, err := s.tasks.MarkProcessing(ctx, taskID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
	}

	done, err := s.tasks.Complete(ctx, taskID, result)
	if err == nil {
		return done, nil
	}
	if !errors.Is(err, domain.ErrInvalidTransition) {
		return nil, err
	}

	current, gerr := s.tasks.Get(ctx, taskID)
	if gerr == nil && current.Status == domain.TaskStatusCompleted {
		return current, nil
	}
	return nil, err
}

// ReportFailure records a worker's failure of a dispatched task, failing it
// and refunding the charge. Reporting a failure twice is harmless.
func (s *Service) ReportFailure(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s already completed", domain.ErrInvalidTransition, taskID)
	}
	if reason == "" {
		reason = "worker reported failure"
	}

	final, err := s.compensate(ctx, t, reason)
	if err != nil {
		return final, err
	}
	if final.Status == domain.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s already completed", domain.ErrInvalidTransition, taskID)
	}
	return final, nil
}

// MarkProcessing records that a worker picked the task up. Acknowledging an
// already PROCESSING task returns it unchanged.
func (s *Service) MarkProcessing(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.MarkProcessing(ctx, taskID)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, gerr := s.tasks.Get(ctx, taskID)
		if gerr == nil && current.Status == domain.TaskStatusProcessing {
			return current, nil
		}
	}
	return nil, err
}

// Get returns the caller's task. Tasks owned by other accounts are reported
// as not found.
func (s *Service) Get(ctx context.Context, accountID string, taskID uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != accountID {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	return t, nil
}

// List returns the caller's tasks, newest first.
func (s *Service) List(ctx context.Context, accountID string, limit int) ([]*domain.Task, error) {
	return s.tasks.ListByOwner(ctx, accountID, limit)
}

// admit validates the request, charges the account and creates the NEW task.
func (s *Service) admit(ctx context.Context, accountID, payload string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, domain.ErrEmptyPayload
	}
	if s.cfg.MaxPayloadBytes > 0 && len(payload) > s.cfg.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrValidation, s.cfg.MaxPayloadBytes)
	}

	id := uuid.New()
	var chargeTxID string
	if s.cfg.Cost > 0 {
		txID, err := s.ledger.Pay(ctx, accountID, s.cfg.Cost, id.String(), "Task "+id.String())
		if err != nil {
			return nil, err
		}
		chargeTxID = txID
	}

	t, err := s.tasks.Create(ctx, accountID, payload, s.cfg.Cost, task.WithID(id), task.WithChargeTx(chargeTxID))
	if err != nil {
		// No task exists to carry the failure, so refund the charge directly.
		orphan := &domain.Task{ID: id, OwnerID: accountID, Cost: s.cfg.Cost, ChargeTxID: chargeTxID}
		if rerr := s.refund(context.WithoutCancel(ctx), orphan, "task creation failed"); rerr != nil {
			return nil, fmt.Errorf("%w; %w", err, rerr)
		}
		return nil, err
	}

	log.Info("task admitted",
		slog.String("task_id", id.String()),
		slog.String("account_id", accountID),
		slog.String("charge_tx_id", chargeTxID),
		slog.String("cost", s.cfg.Cost.String()))
	return t, nil
}

// abort settles a task whose dispatch failed. cause is returned unless the
// task turned out to be COMPLETED after all.
func (s *Service) abort(ctx context.Context, t *domain.Task, cause error) (*domain.Task, error) {
	level := slog.LevelWarn
	if errors.Is(cause, context.Canceled) {
		level = slog.LevelInfo
	}
	logger.FromContextOrDefault(ctx, s.logger).Log(ctx, level, "dispatch did not complete, compensating",
		slog.String("task_id", t.ID.String()),
		slog.String("error", cause.Error()))

	final, err := s.compensate(ctx, t, cause.Error())
	if err != nil {
		return final, fmt.Errorf("%w; %w", cause, err)
	}
	if final.Status == domain.TaskStatusCompleted {
		return final, nil
	}
	return final, cause
}

// compensate fails the task and refunds its charge. It runs detached from
// ctx's cancellation. If the task reached COMPLETED first, nothing is
// refunded and the completed record is returned.
func (s *Service) compensate(ctx context.Context, t *domain.Task, reason string) (*domain.Task, error) {
	cctx := context.WithoutCancel(ctx)
	log := logger.FromContextOrDefault(ctx, s.logger)

	final, err := s.tasks.Fail(cctx, t.ID, reason)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			log.Error("failed to mark task failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()))
			return nil, err
		}
		final, err = s.tasks.Get(cctx, t.ID)
		if err != nil {
			return nil, err
		}
		if final.Status == domain.TaskStatusCompleted {
			return final, nil
		}
	}

	if err := s.refund(cctx, final, reason); err != nil {
		return final, err
	}
	return final, nil
}
