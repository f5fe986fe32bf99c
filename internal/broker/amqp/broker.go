// Package amqp implements dispatch.Broker on RabbitMQ. Tasks go to a durable
// queue as persistent messages with publisher confirms; requests carry a
// correlation id and name an exclusive reply queue that this process consumes
// and forwards to a dispatch.ReplyHandler. A lost connection is re-established
// in the background with capped exponential backoff.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tollgate/internal/dispatch"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

// ErrNotConnected is returned by publishes while the broker is reconnecting.
var ErrNotConnected = errors.New("amqp broker not connected")

// Config holds connection and queue settings.
type Config struct {
	URL              string
	TaskQueue        string
	RPCQueue         string
	PublishTimeout   time.Duration
	DialTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Broker is a RabbitMQ-backed dispatch.Broker.
type Broker struct {
	cfg     Config
	replies dispatch.ReplyHandler
	logger  *slog.Logger
	dial    dialFunc

	// mu guards the current session. It is held only to read or swap it,
	// never across network I/O.
	mu     sync.Mutex
	sess   session
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ dispatch.Broker = (*Broker)(nil)

// New creates a Broker. Call Start to connect.
func New(cfg Config, replies dispatch.ReplyHandler, logger *slog.Logger) (*Broker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url cannot be empty")
	}
	if cfg.TaskQueue == "" || cfg.RPCQueue == "" {
		return nil, fmt.Errorf("task and rpc queue names are required")
	}
	if replies == nil {
		return nil, fmt.Errorf("reply handler cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:     cfg,
		replies: replies,
		logger:  logger.With(slog.String("component", "amqp_broker")),
		dial:    dialAMQP(cfg),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start connects, retrying with backoff until ctx ends or the broker is
// closed, and then watches the session for the rest of the broker's life.
func (b *Broker) Start(ctx context.Context) error {
	return b.connectWithRetry(ctx)
}

// Publish implements dispatch.Broker.
func (b *Broker) Publish(ctx context.Context, msg dispatch.Message) error {
	pub, err := taskPublishing(msg, "", "", time.Now())
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.TaskQueue, func(session) amqp091.Publishing { return pub })
}

// Request implements dispatch.Broker.
func (b *Broker) Request(ctx context.Context, msg dispatch.Message, correlationID string) error {
	pub, err := taskPublishing(msg, correlationID, "", time.Now())
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.RPCQueue, func(s session) amqp091.Publishing {
		pub.ReplyTo = s.replyQueue()
		return pub
	})
}

// Close stops reconnecting and closes the current session.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	b.cancel()
	var err error
	if sess != nil {
		err = sess.close()
	}
	b.wg.Wait()
	return err
}

func (b *Broker) current() session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// publish sends on the current session. With no session it fails at once
// instead of waiting for a reconnect.
func (b *Broker) publish(ctx context.Context, queue string, build func(session) amqp091.Publishing) error {
	sess := b.current()
	if sess == nil {
		return ErrNotConnected
	}

	if b.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
	}
	return sess.publish(ctx, queue, build(sess))
}

func (b *Broker) connectWithRetry(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	backoff := retry.WithCappedDuration(b.cfg.ReconnectMax, retry.NewExponential(b.cfg.ReconnectInitial))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := b.connect(ctx); err != nil {
			if errors.Is(err, errBrokerClosed) || ctx.Err() != nil {
				return err
			}
			b.logger.Warn("failed to connect to amqp broker, retrying", slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && b.ctx.Err() != nil {
		return errBrokerClosed
	}
	return err
}

var errBrokerClosed = errors.New("amqp broker closed")

// connect dials a new session outside the lock and then installs it.
func (b *Broker) connect(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errBrokerClosed
	}

	sess, err := b.dial(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sess.close()
		return errBrokerClosed
	}
	b.sess = sess
	b.wg.Add(2)
	b.mu.Unlock()

	go b.consumeReplies(sess.deliveries())
	go b.watch(sess)

	b.logger.Info("connected to amqp broker",
		slog.String("task_queue", b.cfg.TaskQueue),
		slog.String("rpc_queue", b.cfg.RPCQueue),
		slog.String("reply_queue", sess.replyQueue()))
	return nil
}

func (b *Broker) consumeReplies(deliveries <-chan amqp091.Delivery) {
	defer b.wg.Done()
	for d := range deliveries {
		if d.CorrelationId == "" {
			b.logger.Warn("dropping reply without correlation id")
			continue
		}
		if !b.replies.Resolve(d.CorrelationId, replyFromDelivery(d)) {
			b.logger.Debug("dropping reply for unknown or expired call",
				slog.String("correlation_id", d.CorrelationId))
		}
	}
}

// watch waits for the session's connection or channel to close, tears the
// session down and reconnects. Calls waiting on the old reply queue are left
// to time out.
func (b *Broker) watch(sess session) {
	defer b.wg.Done()

	connClosed, chClosed := sess.closeNotify()
	var amqpErr *amqp091.Error
	select {
	case <-b.ctx.Done():
		return
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	}
	if b.ctx.Err() != nil {
		return
	}

	if amqpErr != nil {
		b.logger.Error("amqp session lost",
			slog.Int("code", amqpErr.Code),
			slog.String("error", amqpErr.Error()))
	} else {
		b.logger.Error("amqp session closed unexpectedly")
	}

	b.mu.Lock()
	if b.sess == sess {
		b.sess = nil
	}
	b.mu.Unlock()
	// A channel exception leaves the connection open.
	_ = sess.close()

	if err := b.connectWithRetry(b.ctx); err != nil && !errors.Is(err, errBrokerClosed) {
		b.logger.Error("giving up reconnecting to amqp broker", slog.String("error", err.Error()))
	}
}
