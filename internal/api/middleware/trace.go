package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

// NewTraceMiddleware adds a trace ID to the request context and stores a
// logger carrying it, so every log line for the request can be correlated
// with the trace_id in error responses. Apply it early in the chain.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			log := base.With(slog.String("trace_id", shared.GetTraceID(ctx)))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
