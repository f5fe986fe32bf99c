package amqp

import (
	"context"
	"fmt"
	"net"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultHeartbeat   = 10 * time.Second
)

// session is one live connection: a confirm-mode channel with the task
// queues declared and a consumer on an exclusive reply queue.
type session interface {
	publish(ctx context.Context, queue string, pub amqp091.Publishing) error
	replyQueue() string
	deliveries() <-chan amqp091.Delivery
	// closeNotify returns the connection and channel close notifications.
	// Either one firing means the session is unusable.
	closeNotify() (conn, ch <-chan *amqp091.Error)
	close() error
}

// dialFunc opens a session. It must give up when ctx ends.
type dialFunc func(ctx context.Context) (session, error)

type amqpSession struct {
	conn  *amqp091.Connection
	ch    *amqp091.Channel
	queue string
	msgs  <-chan amqp091.Delivery

	connClosed chan *amqp091.Error
	chClosed   chan *amqp091.Error

	// sem serializes publish-and-confirm on the channel.
	sem chan struct{}
}

// dialAMQP connects to cfg.URL and prepares a session. The TCP dial and the
// AMQP handshake are both bounded by cfg.DialTimeout and abandoned when ctx
// ends.
func dialAMQP(cfg Config) dialFunc {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	return func(ctx context.Context) (session, error) {
		stopAbort := func() bool { return true }
		conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{
			Heartbeat: defaultHeartbeat,
			Locale:    "en_US",
			Dial: func(network, addr string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				c, err := d.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				// Cleared by amqp091 once the handshake completes.
				if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
					_ = c.Close()
					return nil, err
				}
				stopAbort = context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Now()) })
				return c, nil
			},
		})
		if !stopAbort() && err == nil {
			// ctx ended mid-handshake; the deadline may already be poisoned.
			_ = conn.Close()
			return nil, ctx.Err()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("dial: %w", ctxErr)
			}
			return nil, fmt.Errorf("dial: %w", err)
		}

		s, err := newAMQPSession(conn, cfg)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return s, nil
	}
}

func newAMQPSession(conn *amqp091.Connection, cfg Config) (*amqpSession, error) {
	s := &amqpSession{
		conn:       conn,
		connClosed: conn.NotifyClose(make(chan *amqp091.Error, 1)),
		sem:        make(chan struct{}, 1),
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	s.ch = ch
	s.chClosed = ch.NotifyClose(make(chan *amqp091.Error, 1))

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	for _, name := range []string{cfg.TaskQueue, cfg.RPCQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	msgs, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}
	s.queue, s.msgs = replyQueue.Name, msgs
	return s, nil
}

func (s *amqpSession) publish(ctx context.Context, queue string, pub amqp091.Publishing) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting to publish to %s: %w", queue, ctx.Err())
	}
	defer func() { <-s.sem }()

	if s.ch.IsClosed() {
		return ErrNotConnected
	}
	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected message for %s", queue)
	}
	return nil
}

func (s *amqpSession) replyQueue() string                  { return s.queue }
func (s *amqpSession) deliveries() <-chan amqp091.Delivery { return s.msgs }

func (s *amqpSession) closeNotify() (<-chan *amqp091.Error, <-chan *amqp091.Error) {
	return s.connClosed, s.chClosed
}

// close closes the connection, which also closes the channel and ends the
// reply consumer.
func (s *amqpSession) close() error {
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}
