package testdb

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/tollgate/internal/config"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/platform/postgres"
)

// TestTimeout bounds setup and teardown statements.
const TestTimeout = 10 * time.Second

// tables lists every application table, children first.
var tables = []string{"reconciliation_entries", "tasks", "ledger_transactions", "accounts"}

// GetTestDBWithT returns a migrated database connection, skipping the test
// when no database is configured. The connection is closed on cleanup.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DATABASE_URL or TOLLGATE_TEST_DB_URL not set - skipping integration test")
	}

	log, _ := logger.NewBufferLogger()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := postgres.Open(ctx, config.DatabaseConfig{
		Driver:          "postgres",
		URL:             dbURL,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}, log)
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", maskDatabaseURL(dbURL), err)
	}
	t.Cleanup(func() { CleanupDB(t, db) })

	if err := postgres.Migrate(ctx, db, postgres.MigrateUp, log); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

// CleanupDB closes a database connection, logging any error.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}

// TruncateAll empties every application table.
func TruncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Warn("failed to roll back test transaction", slog.String("error", err.Error()))
		}
	}()

	fn(t, tx)
}
