package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/store"
)

const transactionColumns = `id, account_id, amount, type, status, description,
	COALESCE(reference, ''), COALESCE(error, ''), created_at`

// PostgresLedgerStore implements store.LedgerStore. Every mutation runs in
// its own database transaction and takes a row lock on the account balance,
// so concurrent debits against one account serialize in the database.
type PostgresLedgerStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLedgerStore creates a ledger store backed by db.
// If logger is nil, the default logger is used.
func NewPostgresLedgerStore(db *sql.DB, logger *slog.Logger) *PostgresLedgerStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "ledger_store")),
	}
}

var _ store.LedgerStore = (*PostgresLedgerStore)(nil)

// Balance implements store.LedgerStore.Balance
func (s *PostgresLedgerStore) Balance(ctx context.Context, accountID string) (domain.Amount, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		s.logError(ctx, "failed to read balance", err, slog.String("account_id", accountID))
		return 0, MapError(err)
	}
	return domain.Amount(balance), nil
}

// Credit implements store.LedgerStore.Credit
func (s *PostgresLedgerStore) Credit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error) {
	var balance domain.Amount
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (account_id, balance, updated_at) VALUES ($1, 0, $2)
			 ON CONFLICT (account_id) DO NOTHING`,
			entry.AccountID, time.Now().UTC()); err != nil {
			return MapError(err)
		}
		if _, err := lockBalance(ctx, tx, entry.AccountID); err != nil {
			return err
		}
		var err error
		balance, err = applyEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		s.logError(ctx, "failed to credit account", err,
			slog.String("account_id", entry.AccountID),
			slog.String("transaction_id", entry.ID))
		return 0, err
	}
	entry.Status = domain.TransactionCompleted
	return balance, nil
}

// Debit implements store.LedgerStore.Debit
func (s *PostgresLedgerStore) Debit(ctx context.Context, entry *domain.Transaction) (domain.Amount, error) {
	var balance domain.Amount
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockBalance(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		if current < entry.Amount {
			balance = current
			return fmt.Errorf("%w: balance %s, requested %s",
				domain.ErrInsufficientFunds, current, entry.Amount)
		}
		balance, err = applyEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return balance, err
		}
		s.logError(ctx, "failed to debit account", err,
			slog.String("account_id", entry.AccountID),
			slog.String("transaction_id", entry.ID))
		return 0, err
	}
	entry.Status = domain.TransactionCompleted
	return balance, nil
}

// Reverse implements store.LedgerStore.Reverse. The original row is locked
// before the account row, the same order every other writer uses.
func (s *PostgresLedgerStore) Reverse(
	ctx context.Context,
	originalID string,
	refund *domain.Transaction,
) (domain.Amount, error) {
	var balance domain.Amount
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		original, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`,
			originalID))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrLedgerEntryNotFound
		}
		if err != nil {
			return MapError(err)
		}
		if err := original.Refundable(); err != nil {
			return err
		}
		if refund.AccountID != original.AccountID || refund.Amount != original.Amount {
			return fmt.Errorf("%w: refund does not match %s", store.ErrInvalidEntity, originalID)
		}
		if _, err := lockBalance(ctx, tx, refund.AccountID); err != nil {
			return err
		}
		balance, err = applyEntry(ctx, tx, refund)
		if err != nil {
			return err
		}
		return setStatus(ctx, tx, originalID, domain.TransactionReversed)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyReversed) || errors.Is(err, domain.ErrNotRefundable) {
			return 0, err
		}
		s.logError(ctx, "failed to reverse transaction", err,
			slog.String("original_transaction_id", originalID))
		return 0, err
	}
	refund.Status = domain.TransactionCompleted
	return balance, nil
}

// GetTransaction implements store.LedgerStore.GetTransaction
func (s *PostgresLedgerStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	entry, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLedgerEntryNotFound
	}
	if err != nil {
		s.logError(ctx, "failed to get transaction", err, slog.String("transaction_id", id))
		return nil, MapError(err)
	}
	return entry, nil
}

// ListTransactions implements store.LedgerStore.ListTransactions
func (s *PostgresLedgerStore) ListTransactions(
	ctx context.Context,
	accountID string,
	limit int,
) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logError(ctx, "failed to list transactions", err, slog.String("account_id", accountID))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *PostgresLedgerStore) logError(ctx context.Context, msg string, err error, attrs ...any) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	log.Error(msg, append(attrs, slog.String("error", err.Error()))...)
}

// lockBalance reads the account balance under FOR UPDATE. A missing account
// reads as zero.
func lockBalance(ctx context.Context, tx *sql.Tx, accountID string) (domain.Amount, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, MapError(err)
	}
	return domain.Amount(balance), nil
}

// applyEntry writes entry as pending, moves the balance by its delta and
// marks it completed. The caller must hold the account row lock.
func applyEntry(ctx context.Context, tx *sql.Tx, entry *domain.Transaction) (domain.Amount, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions
			(id, account_id, amount, type, status, description, reference, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)`,
		entry.ID, entry.AccountID, entry.Amount.Cents(), string(entry.Type),
		string(domain.TransactionPending), entry.Description, entry.Reference, entry.Error,
		entry.Timestamp); err != nil {
		return 0, MapError(err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = $3
		 WHERE account_id = $1 RETURNING balance`,
		entry.AccountID, entry.Delta().Cents(), time.Now().UTC()).Scan(&balance); err != nil {
		return 0, MapError(err)
	}

	if err := setStatus(ctx, tx, entry.ID, domain.TransactionCompleted); err != nil {
		return 0, err
	}
	return domain.Amount(balance), nil
}

func setStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TransactionStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE ledger_transactions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, "ledger transaction")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		entry  domain.Transaction
		amount int64
		txType string
		status string
	)
	if err := row.Scan(&entry.ID, &entry.AccountID, &amount, &txType, &status,
		&entry.Description, &entry.Reference, &entry.Error, &entry.Timestamp); err != nil {
		return nil, err
	}
	entry.Amount = domain.Amount(amount)
	entry.Type = domain.TransactionType(txType)
	entry.Status = domain.TransactionStatus(status)
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}
