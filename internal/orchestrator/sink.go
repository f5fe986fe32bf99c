package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/dispatch"
)

// ResultSink adapts the service to dispatch.ResultSink for brokers that run
// workers in process.
func (s *Service) ResultSink() dispatch.ResultSink {
	return resultSink{svc: s}
}

type resultSink struct {
	svc *Service
}

func (r resultSink) MarkProcessing(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.svc.MarkProcessing(ctx, taskID)
	return err
}

func (r resultSink) SetResult(ctx context.Context, taskID uuid.UUID, result string) error {
	_, err := r.svc.SetResult(ctx, taskID, result)
	return err
}

func (r resultSink) ReportFailure(ctx context.Context, taskID uuid.UUID, reason string) error {
	_, err := r.svc.ReportFailure(ctx, taskID, reason)
	return err
}
