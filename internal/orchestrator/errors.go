package orchestrator

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
)

// CompensationError reports a charge that could not be refunded. It matches
// domain.ErrCompensationFailed and the underlying ledger error.
type CompensationError struct {
	TaskID        uuid.UUID
	TransactionID string
	Recorded      bool
	Err           error
}

// Error implements the error interface for CompensationError.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("refund of %s for task %s failed (recorded for reconciliation: %t): %v",
		e.TransactionID, e.TaskID, e.Recorded, e.Err)
}

// Unwrap supports errors.Is for both domain.ErrCompensationFailed and the cause.
func (e *CompensationError) Unwrap() []error {
	return []error{domain.ErrCompensationFailed, e.Err}
}
