package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/tollgate/internal/api"
	apiMiddleware "github.com/phrazzld/tollgate/internal/api/middleware"
)

// setupRouter creates the router with the standard middleware, the API
// routes and the health check.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	balanceHandler := api.NewBalanceHandler(app.ledger, app.logger)
	taskHandler := api.NewTaskHandler(app.orchestrator, app.logger)

	r.Route("/api", func(r chi.Router) {
		api.RegisterRoutes(r, balanceHandler, taskHandler)
	})

	r.Get("/health", app.health)

	return r
}

// health reports 200 when the database, if any, answers a ping.
func (app *application) health(w http.ResponseWriter, r *http.Request) {
	if app.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.db.PingContext(ctx); err != nil {
			app.logger.Error("health check failed", slog.String("error", err.Error()))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		app.logger.Error("Failed to write health check response", slog.String("error", err.Error()))
	}
}
