// Package memory is an in-process dispatch.Broker. A bounded queue feeds a
// pool of worker goroutines that run a Processor on each payload. Requests
// are answered through a dispatch.ReplyHandler; fire-and-forget results go
// to a dispatch.ResultSink. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tollgate/internal/correlator"
	"github.com/phrazzld/tollgate/internal/dispatch"
)

// Config holds configuration for the in-process broker.
type Config struct {
	// Workers is the number of concurrent worker goroutines. Defaults to 1.
	Workers int
	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int
	// ProcessTimeout bounds a single Processor call. Zero means no limit.
	ProcessTimeout time.Duration
}

// Broker runs workers in process.
type Broker struct {
	queue     *Queue
	processor Processor
	replies   dispatch.ReplyHandler
	workers   int
	timeout   time.Duration
	logger    *slog.Logger

	mu   sync.RWMutex
	sink dispatch.ResultSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ dispatch.Broker = (*Broker)(nil)

// New creates a Broker. replies may be nil when request mode is unused.
func New(cfg Config, processor Processor, replies dispatch.ReplyHandler, logger *slog.Logger) (*Broker, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "memory_broker"))

	workers := cfg.Workers
	if workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", cfg.Workers),
			slog.Int("default_count", 1))
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		queue:     NewQueue(cfg.QueueSize, logger),
		processor: processor,
		replies:   replies,
		workers:   workers,
		timeout:   cfg.ProcessTimeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetResultSink sets where fire-and-forget results are reported. It is set
// after construction because the sink usually depends on the dispatcher
// that depends on this broker.
func (b *Broker) SetResultSink(sink dispatch.ResultSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Publish implements dispatch.Broker.
func (b *Broker) Publish(ctx context.Context, msg dispatch.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.queue.Enqueue(job{msg: msg})
}

// Request implements dispatch.Broker.
func (b *Broker) Request(ctx context.Context, msg dispatch.Message, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.replies == nil {
		return fmt.Errorf("memory broker has no reply handler")
	}
	return b.queue.Enqueue(job{msg: msg, correlationID: correlationID})
}

// Start launches the worker goroutines.
func (b *Broker) Start() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	b.logger.Info("memory broker started", slog.Int("workers", b.workers))
}

// Stop closes the queue and waits for workers to drain it. If ctx ends
// first, in-flight Processor calls are cancelled and the remaining jobs
// are dropped.
func (b *Broker) Stop(ctx context.Context) {
	b.queue.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("stopping memory broker before queue drained",
			slog.Int("dropped", b.queue.Len()))
		b.cancel()
		<-done
	}
	b.cancel()
}

func (b *Broker) worker(id int) {
	defer b.wg.Done()
	b.logger.Debug("starting worker", slog.Int("worker_id", id))

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return
		case j, ok := <-b.queue.channel():
			if !ok {
				b.logger.Debug("task queue closed, stopping worker", slog.Int("worker_id", id))
				return
			}
			b.process(j, id)
		}
	}
}

func (b *Broker) process(j job, workerID int) {
	log := b.logger.With(
		slog.String("task_id", j.msg.TaskID.String()),
		slog.Int("worker_id", workerID),
	)

	ctx := b.ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if j.correlationID != "" {
		result, err := b.processor.Process(ctx, j.msg.Payload)
		reply := correlator.Reply{Body: result}
		if err != nil {
			reply = correlator.Reply{Body: err.Error(), IsError: true}
		}
		if !b.replies.Resolve(j.correlationID, reply) {
			log.Warn("reply was not accepted", slog.String("correlation_id", j.correlationID))
		}
		return
	}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink == nil {
		log.Error("no result sink configured, dropping task")
		return
	}

	// Reporting is not cancelled by shutdown.
	report := context.WithoutCancel(ctx)

	if err := sink.MarkProcessing(report, j.msg.TaskID); err != nil {
		log.Warn("task not accepted for processing", slog.String("error", err.Error()))
		return
	}

	log.Info("processing task")
	result, err := b.processor.Process(ctx, j.msg.Payload)
	if err != nil {
		log.Error("task processing failed", slog.String("error", err.Error()))
		if ferr := sink.ReportFailure(report, j.msg.TaskID, err.Error()); ferr != nil {
			log.Error("failed to report task failure", slog.String("error", ferr.Error()))
		}
		return
	}

	if err := sink.SetResult(report, j.msg.TaskID, result); err != nil {
		log.Error("failed to store task result", slog.String("error", err.Error()))
		return
	}
	log.Info("task completed successfully")
}
