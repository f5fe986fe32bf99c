// Package correlator matches asynchronous worker replies to the callers
// waiting for them. Each pending call receives at most one outcome: the
// first of a reply, its deadline passing, or cancellation.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
)

// ErrDuplicateCorrelationID is returned by Register when the ID is already pending.
var ErrDuplicateCorrelationID = errors.New("correlation id already pending")

// ErrUnknownCorrelationID is returned by Wait for IDs that were never
// registered, were cancelled, or whose outcome was already collected.
var ErrUnknownCorrelationID = errors.New("unknown correlation id")

// Reply is what a worker sends back for one call.
type Reply struct {
	// Body is the worker's output, or the error text when IsError is set.
	Body string
	// IsError marks a reply carrying the worker's error marker.
	IsError bool
}

// Outcome is delivered exactly once per registered call.
type Outcome struct {
	Result string
	Err    error
}

type pendingCall struct {
	taskID   uuid.UUID
	deadline time.Time
	ch       chan Outcome
}

// Correlator tracks in-flight calls by correlation ID.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	// waiting keeps the channel of a delivered call until Wait collects it.
	waiting map[string]chan Outcome

	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Correlator whose background sweep, once started, runs every
// interval.
func New(interval time.Duration, logger *slog.Logger) *Correlator {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending:  make(map[string]*pendingCall),
		waiting:  make(map[string]chan Outcome),
		interval: interval,
		logger:   logger.With(slog.String("component", "correlator")),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register starts tracking a call. It fails if the ID is already pending.
func (c *Correlator) Register(correlationID string, taskID uuid.UUID, deadline time.Time) error {
	if correlationID == "" {
		return fmt.Errorf("%w: empty correlation id", domain.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[correlationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, correlationID)
	}
	if _, exists := c.waiting[correlationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, correlationID)
	}

	ch := make(chan Outcome, 1)
	c.pending[correlationID] = &pendingCall{
		taskID:   taskID,
		deadline: deadline,
		ch:       ch,
	}
	c.waiting[correlationID] = ch
	return nil
}

// Resolve delivers a reply to the pending call. It reports false when the
// ID is unknown, expired or already resolved; such replies are dropped.
func (c *Correlator) Resolve(correlationID string, reply Reply) bool {
	outcome := Outcome{Result: reply.Body}
	if reply.IsError {
		outcome = Outcome{Err: fmt.Errorf("%w: %s", domain.ErrWorkerError, reply.Body)}
	}

	c.mu.Lock()
	call, ok := c.pending[correlationID]
	if ok && !c.now().Before(call.deadline) {
		c.deliverLocked(correlationID, call, Outcome{Err: domain.ErrTimeout})
		ok = false
	} else if ok {
		c.deliverLocked(correlationID, call, outcome)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping reply for unknown or expired correlation id",
			slog.String("correlation_id", correlationID))
	}
	return ok
}

// Cancel forgets a call without delivering anything to it.
func (c *Correlator) Cancel(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, correlationID)
	delete(c.waiting, correlationID)
}

// Wait blocks until the call's outcome is available, its deadline passes or
// ctx is done. The deadline is checked here as well as by the sweep, so a
// caller is released on time even between sweeps. A cancelled context
// cancels the call.
func (c *Correlator) Wait(ctx context.Context, correlationID string) (string, error) {
	c.mu.Lock()
	ch, ok := c.waiting[correlationID]
	var deadline time.Time
	if call, pending := c.pending[correlationID]; pending {
		deadline = call.deadline
	}
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCorrelationID, correlationID)
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(deadline.Sub(c.now()))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-ch:
		c.forget(correlationID)
		return out.Result, out.Err
	case <-timeout:
		if !c.expire(correlationID) {
			c.forget(correlationID)
			return "", domain.ErrTimeout
		}
		out := <-ch
		c.forget(correlationID)
		return out.Result, out.Err
	case <-ctx.Done():
		c.Cancel(correlationID)
		return "", ctx.Err()
	}
}

// Pending returns the number of calls still awaiting an outcome.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Start runs the expiry sweep until Stop is called or ctx is done.
func (c *Correlator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("expired pending calls", slog.Int("count", n))
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep started by Start and waits for it to exit.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

// Sweep delivers domain.ErrTimeout to every call past its deadline and
// returns how many it expired.
func (c *Correlator) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for id, call := range c.pending {
		if !now.Before(call.deadline) {
			c.deliverLocked(id, call, Outcome{Err: domain.ErrTimeout})
			expired++
		}
	}
	return expired
}

// expire times out a pending call and reports whether an outcome is now
// buffered for it.
func (c *Correlator) expire(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.pending[correlationID]; ok {
		c.deliverLocked(correlationID, call, Outcome{Err: domain.ErrTimeout})
		return true
	}
	ch, ok := c.waiting[correlationID]
	return ok && len(ch) > 0
}

func (c *Correlator) forget(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiting, correlationID)
}

// deliverLocked removes the call from the pending set and hands it its
// outcome. Removal and send happen under c.mu, so no call is delivered twice.
func (c *Correlator) deliverLocked(correlationID string, call *pendingCall, out Outcome) {
	delete(c.pending, correlationID)
	call.ch <- out
}
