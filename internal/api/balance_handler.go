package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

// LedgerService is the part of the ledger exposed over HTTP.
type LedgerService interface {
	GetBalance(ctx context.Context, accountID string) (domain.Amount, error)
	Deposit(ctx context.Context, accountID string, amount domain.Amount, description string) (string, error)
	Withdraw(ctx context.Context, accountID string, amount domain.Amount, description string) (string, error)
	History(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error)
}

// BalanceHandler serves the caller's balance and ledger history.
type BalanceHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(ledger LedgerService, logger *slog.Logger) *BalanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceHandler{
		ledger: ledger,
		logger: logger.With(slog.String("component", "balance_handler")),
	}
}

// GetBalance handles GET /api/balance.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, BalanceResponse{AccountID: accountID, Balance: balance})
}

// Deposit handles POST /api/balance/deposit.
func (h *BalanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "deposit", h.ledger.Deposit)
}

// Withdraw handles POST /api/balance/withdraw.
func (h *BalanceHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "withdraw", h.ledger.Withdraw)
}

// History handles GET /api/balance/history.
func (h *BalanceHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	txs, err := h.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	resp := HistoryResponse{Transactions: make([]LedgerEntryResponse, 0, len(txs))}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, transactionToResponse(tx))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

type mutation func(ctx context.Context, accountID string, amount domain.Amount, description string) (string, error)

func (h *BalanceHandler) mutate(w http.ResponseWriter, r *http.Request, op string, apply mutation) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	txID, err := apply(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	log := logger.FromContextOrDefault(r.Context(), h.logger)
	log.Info("balance updated",
		slog.String("operation", op),
		slog.String("transaction_id", txID),
		slog.String("amount", req.Amount.String()))

	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TransactionResponse{TransactionID: txID, Balance: balance})
}
