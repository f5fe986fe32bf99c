package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/phrazzld/tollgate/internal/store"
)

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 100

// Service is the only writer of account balances.
type Service struct {
	store  store.LedgerStore
	locks  *KeyedMutex
	logger *slog.Logger
}

// NewService creates a ledger Service backed by s.
// If logger is nil, a default logger will be used.
func NewService(s store.LedgerStore, logger *slog.Logger) (*Service, error) {
	if s == nil {
		return nil, fmt.Errorf("ledger store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		locks:  NewKeyedMutex(),
		logger: logger.With(slog.String("component", "ledger")),
	}, nil
}

// GetBalance returns the account's balance. Unknown accounts have a zero balance.
func (s *Service) GetBalance(ctx context.Context, accountID string) (domain.Amount, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return 0, err
	}
	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return 0, wrapError("get_balance", accountID, err)
	}
	return balance, nil
}

// Deposit credits amount to the account and returns the transaction ID.
func (s *Service) Deposit(ctx context.Context, accountID string, amount domain.Amount, description string) (string, error) {
	entry, err := domain.NewTransaction(accountID, amount, domain.TransactionDeposit, orDefault(description, "Deposit"))
	if err != nil {
		return "", err
	}
	return s.credit(ctx, "deposit", entry)
}

// Withdraw debits amount from the account. It returns
// domain.ErrInsufficientFunds, with no side effect, when the balance is
// lower than amount.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount domain.Amount, description string) (string, error) {
	entry, err := domain.NewTransaction(accountID, amount, domain.TransactionWithdrawal, orDefault(description, "Withdrawal"))
	if err != nil {
		return "", err
	}
	return s.debit(ctx, "withdraw", entry)
}

// Pay is Withdraw recorded as a payment for the referenced work item.
func (s *Service) Pay(ctx context.Context, accountID string, amount domain.Amount, reference, description string) (string, error) {
	entry, err := domain.NewTransaction(accountID, amount, domain.TransactionPayment, orDefault(description, "Task payment"))
	if err != nil {
		return "", err
	}
	entry.Reference = reference
	return s.debit(ctx, "pay", entry)
}

// Refund credits the amount of a completed debit back to its account and
// marks the debit reversed. A second refund of the same debit returns
// domain.ErrAlreadyReversed and changes nothing.
func (s *Service) Refund(ctx context.Context, originalTxID, description string) (string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	original, err := s.store.GetTransaction(ctx, originalTxID)
	if err != nil {
		return "", wrapError("refund", "", err)
	}
	if err := original.Refundable(); err != nil {
		return "", err
	}

	entry, err := domain.NewTransaction(
		original.AccountID,
		original.Amount,
		domain.TransactionRefund,
		orDefault(description, "Refund of "+original.ID),
	)
	if err != nil {
		return "", err
	}
	entry.Reference = original.ID

	unlock := s.locks.Lock(original.AccountID)
	defer unlock()

	balance, err := s.store.Reverse(ctx, original.ID, entry)
	if err != nil {
		return "", wrapError("refund", original.AccountID, err)
	}

	log.Info("refund completed",
		slog.String("account_id", original.AccountID),
		slog.String("transaction_id", entry.ID),
		slog.String("reversed_transaction_id", original.ID),
		slog.String("amount", entry.Amount.String()),
		slog.String("balance", balance.String()))

	return entry.ID, nil
}

// History returns the account's transactions, newest first. A limit of zero
// or less means DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	txs, err := s.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, wrapError("history", accountID, err)
	}
	return txs, nil
}

// Transaction returns a single transaction or domain.ErrTransactionNotFound.
func (s *Service) Transaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, wrapError("get_transaction", "", err)
	}
	return tx, nil
}

func (s *Service) credit(ctx context.Context, op string, entry *domain.Transaction) (string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	unlock := s.locks.Lock(entry.AccountID)
	defer unlock()

	balance, err := s.store.Credit(ctx, entry)
	if err != nil {
		return "", wrapError(op, entry.AccountID, err)
	}

	log.Info("credit completed",
		slog.String("operation", op),
		slog.String("account_id", entry.AccountID),
		slog.String("transaction_id", entry.ID),
		slog.String("amount", entry.Amount.String()),
		slog.String("balance", balance.String()))
	return entry.ID, nil
}

func (s *Service) debit(ctx context.Context, op string, entry *domain.Transaction) (string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	unlock := s.locks.Lock(entry.AccountID)
	defer unlock()

	balance, err := s.store.Debit(ctx, entry)
	if err != nil {
		log.Debug("debit rejected",
			slog.String("operation", op),
			slog.String("account_id", entry.AccountID),
			slog.String("amount", entry.Amount.String()),
			slog.String("error", err.Error()))
		return "", wrapError(op, entry.AccountID, err)
	}

	log.Info("debit completed",
		slog.String("operation", op),
		slog.String("account_id", entry.AccountID),
		slog.String("transaction_id", entry.ID),
		slog.String("amount", entry.Amount.String()),
		slog.String("balance", balance.String()))
	return entry.ID, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
