package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/domain"
)

// Message is the body published for every task.
type Message struct {
	TaskID    uuid.UUID `json:"task_id"`
	Payload   string    `json:"payload"`
	Timestamp string    `json:"timestamp"`
}

// NewMessage builds the queue message for t, stamped with now in RFC 3339.
func NewMessage(t *domain.Task, now time.Time) Message {
	return Message{
		TaskID:    t.ID,
		Payload:   t.Payload,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Encode returns the JSON wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a message produced by Encode.
func DecodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("malformed task message: %w", err)
	}
	if m.TaskID == uuid.Nil {
		return Message{}, fmt.Errorf("malformed task message: missing task_id")
	}
	if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
		return Message{}, fmt.Errorf("malformed task message: bad timestamp %q: %w", m.Timestamp, err)
	}
	return m, nil
}
