package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// StatusClientClosedRequest is the non-standard status for a request the
// client abandoned before the response was ready.
const StatusClientClosedRequest = 499

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// A failed refund may wrap the timeout or worker error that caused it.
	case errors.Is(err, domain.ErrCompensationFailed):
		return http.StatusInternalServerError

	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest

	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired

	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyReversed),
		errors.Is(err, domain.ErrNotRefundable),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout

	case errors.Is(err, domain.ErrWorkerError):
		return http.StatusBadGateway

	case errors.Is(err, domain.ErrDispatchFailed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrCompensationFailed):
		return "Task failed and the refund is pending manual reconciliation"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	case errors.Is(err, domain.ErrUnauthorized):
		return "Missing account identity"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, domain.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return "Transaction not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Task is not in a state that allows this operation"
	case errors.Is(err, domain.ErrAlreadyReversed):
		return "Transaction already refunded"
	case errors.Is(err, domain.ErrNotRefundable):
		return "Transaction cannot be refunded"
	case errors.Is(err, store.ErrConflict):
		return "Concurrent modification, retry the request"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, domain.ErrInvalidAccount):
		return "Invalid account identifier"
	case errors.Is(err, domain.ErrEmptyPayload):
		return "Task payload cannot be empty"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	case errors.Is(err, domain.ErrTimeout):
		return "Timed out waiting for the worker"
	case errors.Is(err, domain.ErrWorkerError):
		return "Worker failed to process the task"
	case errors.Is(err, domain.ErrDispatchFailed):
		return "Task could not be dispatched"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the redacted cause.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, opts ...shared.ResponseOption) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err, opts...)
}
