// Package main runs the tollgate server: a prepaid ledger in front of a
// task queue. With -migrate it applies or inspects the database schema and
// exits instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/tollgate/internal/config"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up, down, reset, status, version) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrateCmd); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.Config{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("store", cfg.Database.Driver),
		slog.String("broker", cfg.Broker.Driver))

	if migrateCmd != "" {
		return runMigrations(ctx, cfg, migrateCmd, log)
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := app.start(ctx); err != nil {
		app.cleanup(context.Background())
		return err
	}

	srv := app.newHTTPServer(app.setupRouter())
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		app.cleanup(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	return app.serve(ctx, srv, ln)
}
