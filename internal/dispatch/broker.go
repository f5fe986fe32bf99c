package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/correlator"
)

// Broker moves task messages to workers.
type Broker interface {
	// Publish durably enqueues msg for fire-and-forget processing.
	Publish(ctx context.Context, msg Message) error

	// Request enqueues msg for request-reply processing. The worker's reply
	// must reach the ReplyHandler the broker was built with, tagged with
	// correlationID.
	Request(ctx context.Context, msg Message, correlationID string) error
}

// ReplyHandler receives RPC replies from a broker. correlator.Correlator
// implements it.
type ReplyHandler interface {
	Resolve(correlationID string, reply correlator.Reply) bool
}

// ResultSink receives progress and outcome of fire-and-forget tasks from
// brokers that run workers in process.
type ResultSink interface {
	MarkProcessing(ctx context.Context, taskID uuid.UUID) error
	SetResult(ctx context.Context, taskID uuid.UUID, result string) error
	ReportFailure(ctx context.Context, taskID uuid.UUID, reason string) error
}
