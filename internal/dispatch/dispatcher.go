package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

// TaskMarker records that a task was handed to the broker.
type TaskMarker interface {
	MarkQueued(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// PendingCalls tracks RPC calls awaiting a reply.
type PendingCalls interface {
	Register(correlationID string, taskID uuid.UUID, deadline time.Time) error
	Cancel(correlationID string)
	Wait(ctx context.Context, correlationID string) (string, error)
}

// Dispatcher serializes tasks into messages and hands them to a Broker.
type Dispatcher struct {
	broker Broker
	tasks  TaskMarker
	calls  PendingCalls
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher wires a Dispatcher. calls may be nil when RPC mode is unused.
func NewDispatcher(broker Broker, tasks TaskMarker, calls PendingCalls, logger *slog.Logger) (*Dispatcher, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task marker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		broker: broker,
		tasks:  tasks,
		calls:  calls,
		logger: logger.With(slog.String("component", "dispatcher")),
		now:    time.Now,
	}, nil
}

// Publish queues t for fire-and-forget processing and returns the QUEUED
// record. The task is marked QUEUED before the message leaves so that a fast
// worker never observes it in NEW. A broker failure is reported as
// domain.ErrDispatchFailed and is not retried here.
func (d *Dispatcher) Publish(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	queued, err := d.tasks.MarkQueued(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	if err := d.broker.Publish(ctx, NewMessage(t, d.now())); err != nil {
		log.Error("failed to publish task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return queued, fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
	}

	log.Info("task published", slog.String("task_id", t.ID.String()))
	return queued, nil
}

// Call sends t in request-reply mode and waits up to timeout for the
// worker's answer. It returns the worker's output, domain.ErrTimeout,
// domain.ErrWorkerError or domain.ErrDispatchFailed.
func (d *Dispatcher) Call(ctx context.Context, t *domain.Task, timeout time.Duration) (string, error) {
	if d.calls == nil {
		return "", fmt.Errorf("%w: request-reply mode is not configured", domain.ErrDispatchFailed)
	}
	log := logger.FromContextOrDefault(ctx, d.logger)

	correlationID := uuid.NewString()
	if err := d.calls.Register(correlationID, t.ID, d.now().Add(timeout)); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
	}

	if _, err := d.tasks.MarkQueued(ctx, t.ID); err != nil {
		d.calls.Cancel(correlationID)
		return "", err
	}

	if err := d.broker.Request(ctx, NewMessage(t, d.now()), correlationID); err != nil {
		d.calls.Cancel(correlationID)
		log.Error("failed to send task request",
			slog.String("task_id", t.ID.String()),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
	}

	log.Debug("waiting for worker reply",
		slog.String("task_id", t.ID.String()),
		slog.String("correlation_id", correlationID),
		slog.Duration("timeout", timeout))

	return d.calls.Wait(ctx, correlationID)
}
