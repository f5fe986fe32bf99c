package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/tollgate/internal/api"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{domain.ErrTaskNotFound, http.StatusNotFound},
		{domain.ErrTransactionNotFound, http.StatusNotFound},
		{store.ErrTaskNotFound, http.StatusNotFound},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrAlreadyReversed, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrEmptyPayload, http.StatusBadRequest},
		{domain.ErrInvalidAccount, http.StatusBadRequest},
		{domain.ErrTimeout, http.StatusGatewayTimeout},
		{domain.ErrWorkerError, http.StatusBadGateway},
		{domain.ErrDispatchFailed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", domain.ErrCompensationFailed, domain.ErrTimeout), http.StatusInternalServerError},
		{context.Canceled, api.StatusClientClosedRequest},
		{fmt.Errorf("%w; %w", context.Canceled, domain.ErrCompensationFailed), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, api.MapErrorToStatusCode(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "An unexpected error occurred", api.GetSafeErrorMessage(nil))
	assert.Equal(t, "Insufficient funds", api.GetSafeErrorMessage(domain.ErrInsufficientFunds))
	assert.Equal(t, "Task not found", api.GetSafeErrorMessage(fmt.Errorf("%w: 123", domain.ErrTaskNotFound)))

	leaky := fmt.Errorf("query failed: postgres://admin:secret@db:5432/app: %w", errors.New("conn refused"))
	msg := api.GetSafeErrorMessage(leaky)
	assert.Equal(t, "An unexpected error occurred", msg)
	assert.NotContains(t, msg, "secret")
}

func TestHandleAPIError_ClientCancelIsNotAServerFault(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewBufferLogger()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/rpc", nil)
	req = req.WithContext(logger.WithLogger(req.Context(), log))
	rec := httptest.NewRecorder()

	api.HandleAPIError(rec, req, fmt.Errorf("waiting for reply: %w", context.Canceled))

	assert.Equal(t, api.StatusClientClosedRequest, rec.Code)
	entry, ok := buf.Find("API error response")
	require.True(t, ok)
	assert.Equal(t, "DEBUG", entry["level"])
}
