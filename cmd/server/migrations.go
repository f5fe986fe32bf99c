package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tollgate/internal/config"
	"github.com/phrazzld/tollgate/internal/platform/postgres"
)

// runMigrations executes one migration command against the configured
// database.
func runMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations need the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	db, err := postgres.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Error("failed to close database connection", slog.String("error", cerr.Error()))
		}
	}()

	logger.Info("executing migrations", slog.String("command", command))
	if err := postgres.Migrate(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	logger.Info("migrations finished", slog.String("command", command))
	return nil
}
