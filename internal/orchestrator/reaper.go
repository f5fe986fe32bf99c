package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tollgate/internal/domain"
)

// staleStatuses are the non-terminal states a task can be abandoned in.
var staleStatuses = []domain.TaskStatus{
	domain.TaskStatusNew,
	domain.TaskStatusQueued,
	domain.TaskStatusProcessing,
}

// ReaperConfig controls the stale task sweep.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAge is how long a task may go without a status change.
	StaleAge time.Duration
	// BatchSize caps the tasks handled per sweep.
	BatchSize int
}

// Reaper periodically fails and refunds tasks whose worker never reported back.
type Reaper struct {
	svc    *Service
	cfg    ReaperConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a Reaper for svc's tasks.
func NewReaper(svc *Service, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reaper")),
	}
}

// Start runs sweeps in the background until Stop is called or ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error("stale task sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop ends the background sweep and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// RunOnce fails and refunds every stale task found in one batch and returns
// how many it failed. Tasks that complete concurrently are left alone.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.svc.tasks.ListStale(ctx, staleStatuses, r.cfg.StaleAge, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	r.logger.Info("found stale tasks", slog.Int("count", len(stale)))

	reaped := 0
	for _, t := range stale {
		final, err := r.svc.compensate(ctx, t, "no result from worker within "+r.cfg.StaleAge.String())
		if err != nil {
			r.logger.Error("failed to reap stale task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if final.Status == domain.TaskStatusFailed {
			reaped++
			r.logger.Info("reaped stale task",
				slog.String("task_id", t.ID.String()),
				slog.String("previous_status", string(t.Status)))
		}
	}
	return reaped, nil
}
