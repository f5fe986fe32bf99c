package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
)

const (
	// defaultListLimit applies when a list request has no limit parameter.
	defaultListLimit = 50
	// maxListLimit caps the limit parameter.
	maxListLimit = 500
)

// accountFromRequest returns the caller's account, writing a 401 when the
// account middleware did not run.
func accountFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := shared.GetAccountID(r.Context())
	if !ok {
		HandleAPIError(w, r, domain.ErrUnauthorized)
		return "", false
	}
	return accountID, true
}

// getPathUUID parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// parseLimit reads the limit query parameter. Missing means the default;
// values above the cap are clamped.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// decodeAndValidate decodes the JSON body into v and validates it, writing
// a 400 on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			HandleAPIError(w, r, err)
			return false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}
