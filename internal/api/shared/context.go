package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request-scoped values set by the API middleware.
type ContextKey string

const (
	// AccountIDContextKey holds the caller's account identifier.
	AccountIDContextKey ContextKey = "accountID"

	// TraceIDKey holds the trace ID of the request.
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID adds a fresh trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context, or "" if none is set.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SetAccountID stores the caller's account identifier in the context.
func SetAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDContextKey, accountID)
}

// GetAccountID returns the caller's account identifier and whether one was set.
func GetAccountID(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(AccountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", false
	}
	return accountID, true
}

// generateTraceID returns 32 hex characters.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
