package amqp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/correlator"
	"github.com/phrazzld/tollgate/internal/dispatch"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	queue      string
	msgs       chan amqp091.Delivery
	connClosed chan *amqp091.Error
	chClosed   chan *amqp091.Error

	mu        sync.Mutex
	published []amqp091.Publishing
	closed    bool
}

func newFakeSession(queue string) *fakeSession {
	return &fakeSession{
		queue:      queue,
		msgs:       make(chan amqp091.Delivery),
		connClosed: make(chan *amqp091.Error, 1),
		chClosed:   make(chan *amqp091.Error, 1),
	}
}

func (s *fakeSession) publish(_ context.Context, _ string, pub amqp091.Publishing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	s.published = append(s.published, pub)
	return nil
}

func (s *fakeSession) replyQueue() string                  { return s.queue }
func (s *fakeSession) deliveries() <-chan amqp091.Delivery { return s.msgs }

func (s *fakeSession) closeNotify() (<-chan *amqp091.Error, <-chan *amqp091.Error) {
	return s.connClosed, s.chClosed
}

func (s *fakeSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
		close(s.connClosed)
		close(s.chClosed)
	}
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) publishings() []amqp091.Publishing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]amqp091.Publishing(nil), s.published...)
}

// fakeDialer hands out a new fakeSession per dial. When gate is set, every
// dial after the first blocks until gate is closed or ctx ends.
type fakeDialer struct {
	gate chan struct{}

	mu       sync.Mutex
	sessions []*fakeSession
}

func (d *fakeDialer) dial(ctx context.Context) (session, error) {
	d.mu.Lock()
	n := len(d.sessions)
	d.mu.Unlock()

	if n > 0 && d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s := newFakeSession(fmt.Sprintf("reply-%d", n+1))
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func newFakeBroker(t *testing.T, d *fakeDialer) *Broker {
	t.Helper()
	b, err := New(Config{
		URL:              "amqp://localhost",
		TaskQueue:        "tasks",
		RPCQueue:         "rpc_tasks",
		PublishTimeout:   time.Second,
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     10 * time.Millisecond,
	}, correlator.New(time.Second, nil), nil)
	require.NoError(t, err)
	b.dial = d.dial
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testMessage() dispatch.Message {
	return dispatch.Message{TaskID: uuid.New(), Payload: "x", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func TestBroker_RequestNamesCurrentReplyQueue(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	b := newFakeBroker(t, d)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Request(context.Background(), testMessage(), "corr-1"))
	require.NoError(t, b.Publish(context.Background(), testMessage()))

	pubs := d.session(0).publishings()
	require.Len(t, pubs, 2)
	assert.Equal(t, "corr-1", pubs[0].CorrelationId)
	assert.Equal(t, "reply-1", pubs[0].ReplyTo)
	assert.Empty(t, pubs[1].ReplyTo)
}

func TestBroker_ChannelCloseReconnects(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	b := newFakeBroker(t, d)
	require.NoError(t, b.Start(context.Background()))

	first := d.session(0)
	first.chClosed <- &amqp091.Error{Code: amqp091.PreconditionFailed, Reason: "PRECONDITION_FAILED - message size exceeded"}

	require.Eventually(t, func() bool { return d.count() == 2 && b.current() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, first.isClosed(), "the connection behind a dead channel is closed")

	require.NoError(t, b.Request(context.Background(), testMessage(), "corr-2"))
	pubs := d.session(1).publishings()
	require.Len(t, pubs, 1)
	assert.Equal(t, "reply-2", pubs[0].ReplyTo)
}

func TestBroker_ConnectionCloseReconnects(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	b := newFakeBroker(t, d)
	require.NoError(t, b.Start(context.Background()))

	d.session(0).connClosed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "CONNECTION_FORCED"}

	require.Eventually(t, func() bool { return d.count() == 2 && b.current() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, b.Publish(context.Background(), testMessage()))
}

func TestBroker_PublishFailsFastWhileReconnecting(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{gate: make(chan struct{})}
	b := newFakeBroker(t, d)
	require.NoError(t, b.Start(context.Background()))

	d.session(0).connClosed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "CONNECTION_FORCED"}
	require.Eventually(t, func() bool { return b.current() == nil }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	err := b.Publish(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(d.gate)
	require.Eventually(t, func() bool { return b.current() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, b.Publish(context.Background(), testMessage()))
}

func TestBroker_CloseStopsReconnecting(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{gate: make(chan struct{})}
	b := newFakeBroker(t, d)
	require.NoError(t, b.Start(context.Background()))

	d.session(0).connClosed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "CONNECTION_FORCED"}
	require.Eventually(t, func() bool { return b.current() == nil }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- b.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending reconnect")
	}

	assert.Equal(t, 1, d.count())
	assert.ErrorIs(t, b.Start(context.Background()), errBrokerClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), testMessage()), ErrNotConnected)
}

// A server that accepts TCP but never speaks AMQP must not hold up publishers,
// and cancelling Start must abandon the handshake.
func TestBroker_SilentServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		for {
			select {
			case c := <-accepted:
				_ = c.Close()
			default:
				return
			}
		}
	})

	b, err := New(Config{
		URL:              "amqp://guest:guest@" + ln.Addr().String() + "/",
		TaskQueue:        "tasks",
		RPCQueue:         "rpc_tasks",
		PublishTimeout:   100 * time.Millisecond,
		DialTimeout:      30 * time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	}, correlator.New(time.Second, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- b.Start(ctx) }()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("broker never dialed")
	}
	defer func() { _ = conn.Close() }()

	begin := time.Now()
	assert.ErrorIs(t, b.Publish(context.Background(), testMessage()), ErrNotConnected)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	cancel()
	select {
	case err := <-started:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start ignored cancellation during the handshake")
	}
}
