package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusNew        TaskStatus = "NEW"
	TaskStatusQueued     TaskStatus = "QUEUED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// taskTransitions lists every legal edge of the task state machine.
// Terminal states have no outgoing edges.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusNew:        {TaskStatusQueued, TaskStatusFailed},
	TaskStatusQueued:     {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
}

// Task is one unit of billable work submitted for asynchronous processing.
type Task struct {
	ID         uuid.UUID  `json:"id"`
	OwnerID    string     `json:"owner_account_id"`
	Payload    string     `json:"payload"`
	Status     TaskStatus `json:"status"`
	Result     *string    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Cost       Amount     `json:"cost"`
	ChargeTxID string     `json:"charge_tx_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewTask creates a task in the NEW state.
func NewTask(ownerID string, payload string, cost Amount) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Payload:   payload,
		Status:    TaskStatusNew,
		Cost:      cost,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task id is empty", ErrValidation)
	}
	if err := ValidateAccountID(t.OwnerID); err != nil {
		return err
	}
	if t.Payload == "" {
		return ErrEmptyPayload
	}
	if t.Cost < 0 {
		return fmt.Errorf("%w: negative task cost", ErrInvalidAmount)
	}
	if !IsValidTaskStatus(t.Status) {
		return fmt.Errorf("%w: unknown task status %q", ErrValidation, t.Status)
	}
	return nil
}

// TransitionTo moves the task to the given status, stamping UpdatedAt.
// The record is left untouched when the edge is not in the state machine.
func (t *Task) TransitionTo(next TaskStatus, now time.Time) error {
	if !CanTransition(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now.UTC()
	return nil
}

// Complete moves a PROCESSING task to COMPLETED and records its result.
func (t *Task) Complete(result string, now time.Time) error {
	if err := t.TransitionTo(TaskStatusCompleted, now); err != nil {
		return err
	}
	t.Result = &result
	t.Error = ""
	return nil
}

// Fail moves the task to FAILED and records the reason.
func (t *Task) Fail(reason string, now time.Time) error {
	if err := t.TransitionTo(TaskStatusFailed, now); err != nil {
		return err
	}
	t.Error = reason
	return nil
}

// IsTerminal reports whether the task can no longer change state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether from -> to is an edge of the task state machine.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsValidTaskStatus checks if the given status is a known TaskStatus.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusNew, TaskStatusQueued, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
