package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationEntry records a refund that could not be applied automatically.
// Every open entry means an account was charged for work it did not receive.
type ReconciliationEntry struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     string     `json:"account_id"`
	TaskID        uuid.UUID  `json:"task_id"`
	TransactionID string     `json:"transaction_id"`
	Amount        Amount     `json:"amount"`
	Reason        string     `json:"reason"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// NewReconciliationEntry creates an open reconciliation entry.
func NewReconciliationEntry(task *Task, reason string) *ReconciliationEntry {
	return &ReconciliationEntry{
		ID:            uuid.New(),
		AccountID:     task.OwnerID,
		TaskID:        task.ID,
		TransactionID: task.ChargeTxID,
		Amount:        task.Cost,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
}
