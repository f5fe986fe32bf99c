package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/api"
	"github.com/phrazzld/tollgate/internal/api/middleware"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	balance    domain.Amount
	balanceErr error
	mutateErr  error
	history    []*domain.Transaction

	lastAccount string
	lastAmount  domain.Amount
	lastLimit   int
}

func (f *fakeLedger) GetBalance(_ context.Context, accountID string) (domain.Amount, error) {
	f.lastAccount = accountID
	return f.balance, f.balanceErr
}

func (f *fakeLedger) Deposit(_ context.Context, accountID string, amount domain.Amount, _ string) (string, error) {
	f.lastAccount, f.lastAmount = accountID, amount
	if f.mutateErr != nil {
		return "", f.mutateErr
	}
	f.balance += amount
	return "tx_deposit", nil
}

func (f *fakeLedger) Withdraw(_ context.Context, accountID string, amount domain.Amount, _ string) (string, error) {
	f.lastAccount, f.lastAmount = accountID, amount
	if f.mutateErr != nil {
		return "", f.mutateErr
	}
	f.balance -= amount
	return "tx_withdraw", nil
}

func (f *fakeLedger) History(_ context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	f.lastAccount, f.lastLimit = accountID, limit
	return f.history, nil
}

type fakeTasks struct {
	task    *domain.Task
	err     error
	id      uuid.UUID
	timeout time.Duration
	payload string
	owner   string
	limit   int
}

func (f *fakeTasks) Submit(_ context.Context, accountID, payload string) (uuid.UUID, error) {
	f.owner, f.payload = accountID, payload
	return f.id, f.err
}

func (f *fakeTasks) SubmitAndWait(_ context.Context, accountID, payload string, timeout time.Duration) (*domain.Task, error) {
	f.owner, f.payload, f.timeout = accountID, payload, timeout
	return f.task, f.err
}

func (f *fakeTasks) SetResult(_ context.Context, taskID uuid.UUID, result string) (*domain.Task, error) {
	f.id, f.payload = taskID, result
	return f.task, f.err
}

func (f *fakeTasks) ReportFailure(_ context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	f.id, f.payload = taskID, reason
	return f.task, f.err
}

func (f *fakeTasks) MarkProcessing(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
	f.id = taskID
	return f.task, f.err
}

func (f *fakeTasks) Get(_ context.Context, accountID string, taskID uuid.UUID) (*domain.Task, error) {
	f.owner, f.id = accountID, taskID
	return f.task, f.err
}

func (f *fakeTasks) List(_ context.Context, accountID string, limit int) ([]*domain.Task, error) {
	f.owner, f.limit = accountID, limit
	if f.task == nil {
		return nil, f.err
	}
	return []*domain.Task{f.task}, f.err
}

func newRouter(ledger api.LedgerService, tasks api.TaskService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(nil))
	r.Route("/api", func(r chi.Router) {
		api.RegisterRoutes(r, api.NewBalanceHandler(ledger, nil), api.NewTaskHandler(tasks, nil))
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(middleware.AccountIDHeader, account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
