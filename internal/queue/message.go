package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
)

// ErrInvalidMessage is returned when a message body cannot be decoded or is
// missing required fields.
var ErrInvalidMessage = errors.New("invalid queue message")

// Message asks the consumer to process one task. It carries a full snapshot
// of the ingredient so that processing never consults the catalog.
type Message struct {
	TaskID     uuid.UUID         `json:"task_id"`
	Ingredient domain.Ingredient `json:"ingredient"`
	UserID     string            `json:"user_id"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
}

// NewMessage builds the message for the task's current attempt.
func NewMessage(task *domain.ProcessingTask, now time.Time) Message {
	return Message{
		TaskID:     task.ID,
		Ingredient: task.Ingredient,
		UserID:     task.UserID,
		Timestamp:  now,
		RetryCount: task.RetryCount,
	}
}

// Validate checks the fields the consumer relies on.
func (m Message) Validate() error {
	if m.TaskID == uuid.Nil {
		return fmt.Errorf("%w: task_id is required", ErrInvalidMessage)
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidMessage)
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("%w: retry_count must not be negative", ErrInvalidMessage)
	}
	return nil
}

// Encode serializes the message for transport.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a message body.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
