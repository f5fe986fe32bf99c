package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/store"
)

// PostgresReconciliationStore implements store.ReconciliationStore.
type PostgresReconciliationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresReconciliationStore creates a reconciliation store.
func NewPostgresReconciliationStore(db store.DBTX, logger *slog.Logger) *PostgresReconciliationStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReconciliationStore{
		db:     db,
		logger: logger.With(slog.String("component", "reconciliation_store")),
	}
}

var _ store.ReconciliationStore = (*PostgresReconciliationStore)(nil)

// Record implements store.ReconciliationStore.Record
func (s *PostgresReconciliationStore) Record(ctx context.Context, entry *domain.ReconciliationEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconciliation_entries
			(id, account_id, task_id, transaction_id, amount, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.AccountID, entry.TaskID, entry.TransactionID,
		entry.Amount.Cents(), entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to record reconciliation entry",
			slog.String("task_id", entry.TaskID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// ListOpen implements store.ReconciliationStore.ListOpen
func (s *PostgresReconciliationStore) ListOpen(ctx context.Context, limit int) ([]*domain.ReconciliationEntry, error) {
	query := `SELECT id, account_id, task_id, transaction_id, amount, reason, created_at
		FROM reconciliation_entries WHERE resolved_at IS NULL ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*domain.ReconciliationEntry, 0)
	for rows.Next() {
		var (
			entry  domain.ReconciliationEntry
			amount int64
			txID   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.TaskID, &txID,
			&amount, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		entry.TransactionID = txID.String
		entry.Amount = domain.Amount(amount)
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}
