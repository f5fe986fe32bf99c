package api_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/phrazzld/tollgate/internal/api"
	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceHandler_GetBalance(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{balance: domain.NewAmount(42, 50)}
	rec := doRequest(t, newRouter(ledger, &fakeTasks{}), http.MethodGet, "/api/balance", "acct-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account_id":"acct-1","balance":"42.50"}`, rec.Body.String())
	assert.Equal(t, "acct-1", ledger.lastAccount)
}

func TestBalanceHandler_RequiresAccount(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, newRouter(&fakeLedger{}, &fakeTasks{}), http.MethodGet, "/api/balance", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[shared.ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.TraceID)
}

func TestBalanceHandler_Deposit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       any
		mutateErr  error
		wantStatus int
		wantAmount domain.Amount
	}{
		{name: "string amount", body: `{"amount":"10.00"}`, wantStatus: http.StatusOK, wantAmount: 1000},
		{name: "numeric amount", body: `{"amount":2.5}`, wantStatus: http.StatusOK, wantAmount: 250},
		{name: "too many decimals", body: `{"amount":"1.001"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"amount":"1.00","extra":true}`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: nil, wantStatus: http.StatusBadRequest},
		{
			name:       "ledger rejects the amount",
			body:       `{"amount":"0"}`,
			mutateErr:  domain.ErrInvalidAmount,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ledger := &fakeLedger{mutateErr: tt.mutateErr}
			rec := doRequest(t, newRouter(ledger, &fakeTasks{}), http.MethodPost, "/api/balance/deposit", "acct-1", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				resp := decode[api.TransactionResponse](t, rec)
				assert.Equal(t, "tx_deposit", resp.TransactionID)
				assert.Equal(t, tt.wantAmount, resp.Balance)
				assert.Equal(t, tt.wantAmount, ledger.lastAmount)
			}
		})
	}
}

func TestBalanceHandler_Withdraw_InsufficientFunds(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{mutateErr: domain.ErrInsufficientFunds}
	rec := doRequest(t, newRouter(ledger, &fakeTasks{}), http.MethodPost, "/api/balance/withdraw", "acct-1",
		`{"amount":"5.00"}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "Insufficient funds", decode[shared.ErrorResponse](t, rec).Error)
}

func TestBalanceHandler_History(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{history: []*domain.Transaction{{
		ID: "tx_1", AccountID: "acct-1", Amount: 1000, Type: domain.TransactionDeposit,
		Status: domain.TransactionCompleted, Timestamp: ts,
	}}}
	h := newRouter(ledger, &fakeTasks{})

	t.Run("default limit", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/balance/history", "acct-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.HistoryResponse](t, rec)
		require.Len(t, resp.Transactions, 1)
		assert.Equal(t, "deposit", resp.Transactions[0].Type)
		assert.Equal(t, domain.Amount(1000), resp.Transactions[0].Amount)
		assert.Equal(t, 50, ledger.lastLimit)
	})

	t.Run("clamped limit", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/balance/history?limit=9999", "acct-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 500, ledger.lastLimit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/balance/history?limit=abc", "acct-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
