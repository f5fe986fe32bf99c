package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
	"github.com/sethvargo/go-retry"
)

// refund returns t's charge to its owner, retrying transient ledger errors
// with exponential backoff. An already reversed charge counts as refunded.
// When every attempt fails the task is written to the reconciliation store.
func (s *Service) refund(ctx context.Context, t *domain.Task, reason string) error {
	if t.ChargeTxID == "" {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("charge_tx_id", t.ChargeTxID))

	backoff := retry.WithMaxRetries(s.cfg.RefundAttempts-1, retry.NewExponential(s.cfg.RefundBackoff))

	var attempts int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		refundID, err := s.ledger.Refund(ctx, t.ChargeTxID, "Refund for task "+t.ID.String())
		switch {
		case err == nil:
			log.Info("charge refunded", slog.String("refund_tx_id", refundID))
			return nil
		case errors.Is(err, domain.ErrAlreadyReversed):
			log.Debug("charge already refunded")
			return nil
		case errors.Is(err, domain.ErrNotRefundable), errors.Is(err, domain.ErrTransactionNotFound):
			return err
		default:
			log.Warn("refund attempt failed",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
	})
	if err == nil {
		return nil
	}

	return s.escalate(ctx, t, fmt.Sprintf("%s: refund failed after %d attempts: %v", reason, attempts, err), err)
}

// escalate records a refund that could not be applied.
func (s *Service) escalate(ctx context.Context, t *domain.Task, reason string, cause error) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	entry := domain.NewReconciliationEntry(t, reason)
	compErr := &CompensationError{TaskID: t.ID, TransactionID: t.ChargeTxID, Err: cause}

	attrs := []any{
		slog.String("reconciliation_id", entry.ID.String()),
		slog.String("task_id", t.ID.String()),
		slog.String("account_id", entry.AccountID),
		slog.String("charge_tx_id", entry.TransactionID),
		slog.String("amount", entry.Amount.String()),
		slog.String("reason", reason),
	}

	if s.reconciliation == nil {
		log.Error("refund failed and no reconciliation store is configured",
			append(attrs, slog.Bool("reconciliation_required", true))...)
		return compErr
	}

	if err := s.reconciliation.Record(ctx, entry); err != nil {
		log.Error("refund failed and reconciliation entry could not be written",
			append(attrs,
				slog.Bool("reconciliation_required", true),
				slog.String("record_error", err.Error()))...)
		return compErr
	}

	compErr.Recorded = true
	log.Error("refund failed, recorded for reconciliation", attrs...)
	return compErr
}
