package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/store"
)

const taskColumns = `id, owner_account_id, payload, status, result, COALESCE(error, ''),
	cost, COALESCE(charge_tx_id, ''), created_at, updated_at`

// PostgresTaskStore implements store.TaskStore. Status changes are guarded
// by the current status in the WHERE clause, which makes every update a
// compare-and-swap.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store on a connection or transaction.
// If logger is nil, the default logger is used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks
			(id, owner_account_id, payload, status, result, error, cost, charge_tx_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		task.ID, task.OwnerID, task.Payload, string(task.Status), nullString(task.Result),
		task.Error, task.Cost.Cents(), task.ChargeTxID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		s.log(ctx).Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}
	return nil
}

// Get implements store.TaskStore.Get
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		s.log(ctx).Error("failed to get task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return task, nil
}

// ListByOwner implements store.TaskStore.ListByOwner
func (s *PostgresTaskStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE owner_account_id = $1 ORDER BY created_at DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// CompareAndSwap implements store.TaskStore.CompareAndSwap
func (s *PostgresTaskStore) CompareAndSwap(ctx context.Context, expected domain.TaskStatus, next *domain.Task) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = $3, result = $4, error = NULLIF($5, ''), charge_tx_id = NULLIF($6, ''), updated_at = $7
		 WHERE id = $1 AND status = $2`,
		next.ID, string(expected), string(next.Status), nullString(next.Result),
		next.Error, next.ChargeTxID, next.UpdatedAt,
	)
	if err != nil {
		s.log(ctx).Error("failed to update task",
			slog.String("task_id", next.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("task", "compare_and_swap", "failed to update task", MapError(err))
	}

	if err := CheckRowsAffected(result, "task"); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return fmt.Errorf("%w: task %s is no longer %s", store.ErrConflict, next.ID, expected)
}

// ListStale implements store.TaskStore.ListStale
func (s *PostgresTaskStore) ListStale(
	ctx context.Context,
	statuses []domain.TaskStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return []*domain.Task{}, nil
	}

	args := []any{updatedBefore}
	placeholders := make([]string, len(statuses))
	for i, status := range statuses {
		args = append(args, string(status))
		placeholders[i] = fmt.Sprintf("$%d", i+2)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE updated_at < $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY updated_at ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, query, args...)
}

func (s *PostgresTaskStore) query(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log(ctx).Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *PostgresTaskStore) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, s.logger)
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task   domain.Task
		status string
		result sql.NullString
		cost   int64
	)
	if err := row.Scan(&task.ID, &task.OwnerID, &task.Payload, &status, &result, &task.Error,
		&cost, &task.ChargeTxID, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	task.Cost = domain.Amount(cost)
	if result.Valid {
		task.Result = &result.String
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
