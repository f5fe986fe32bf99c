package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/tollgate/internal/dispatch"
)

// Common errors returned by the Queue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// job is one queued message. A non-empty correlationID marks a request
// whose reply goes back through the ReplyHandler.
type job struct {
	msg           dispatch.Message
	correlationID string
}

// Queue is a bounded in-process task queue.
type Queue struct {
	mu     sync.RWMutex
	jobs   chan job
	closed bool
	logger *slog.Logger
}

// NewQueue creates a queue that buffers up to size jobs.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:   make(chan job, size),
		logger: logger,
	}
}

// Enqueue adds a job without blocking. It fails when the queue is full or closed.
func (q *Queue) Enqueue(j job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- j:
		q.logger.Debug("task enqueued",
			slog.String("task_id", j.msg.TaskID.String()),
			slog.Bool("request", j.correlationID != ""),
			slog.Int("queue_len", len(q.jobs)),
			slog.Int("queue_cap", cap(q.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Close stops further submission. Jobs already queued are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
		q.logger.Info("task queue closed")
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) channel() <-chan job {
	return q.jobs
}
