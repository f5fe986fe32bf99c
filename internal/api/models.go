package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
)

// AmountRequest is the body of deposit and withdraw calls. Amount accepts
// "10.00" or 10.00.
type AmountRequest struct {
	Amount      domain.Amount `json:"amount"`
	Description string        `json:"description" validate:"max=256"`
}

// BalanceResponse reports an account's balance.
type BalanceResponse struct {
	AccountID string        `json:"account_id"`
	Balance   domain.Amount `json:"balance"`
}

// TransactionResponse is returned after a balance mutation.
type TransactionResponse struct {
	TransactionID string        `json:"transaction_id"`
	Balance       domain.Amount `json:"balance"`
}

// LedgerEntryResponse is one row of an account's history.
type LedgerEntryResponse struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Status      string        `json:"status"`
	Amount      domain.Amount `json:"amount"`
	Description string        `json:"description,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// HistoryResponse lists ledger entries, newest first.
type HistoryResponse struct {
	Transactions []LedgerEntryResponse `json:"transactions"`
}

// SubmitTaskRequest is the body of task submissions.
type SubmitTaskRequest struct {
	Payload string `json:"payload" validate:"required"`
	// TimeoutSeconds applies to synchronous calls only; zero means the default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" validate:"min=0"`
}

// SubmitTaskResponse is returned by asynchronous submissions.
type SubmitTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// TaskResultRequest carries a worker's result.
type TaskResultRequest struct {
	Result string `json:"result"`
}

// TaskFailureRequest carries a worker's failure reason.
type TaskFailureRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// TaskResponse is the client view of a task.
type TaskResponse struct {
	ID         uuid.UUID     `json:"id"`
	Status     string        `json:"status"`
	Payload    string        `json:"payload"`
	Result     *string       `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Cost       domain.Amount `json:"cost"`
	ChargeTxID string        `json:"charge_tx_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// TaskListResponse lists tasks, newest first.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// TaskErrorResponse is an error response that also reports the task it
// concerns, for synchronous calls that failed after admission.
type TaskErrorResponse struct {
	shared.ErrorResponse
	Task *TaskResponse `json:"task,omitempty"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		Status:     string(t.Status),
		Payload:    t.Payload,
		Result:     t.Result,
		Error:      t.Error,
		Cost:       t.Cost,
		ChargeTxID: t.ChargeTxID,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func transactionToResponse(tx *domain.Transaction) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		Amount:      tx.Amount,
		Description: tx.Description,
		Reference:   tx.Reference,
		Timestamp:   tx.Timestamp,
	}
}
