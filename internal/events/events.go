package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
)

// EventType names a task lifecycle transition.
type EventType string

const (
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskResumed   EventType = "task.resumed"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRequeued  EventType = "task.requeued"
)

// TaskEvent is a snapshot of a task taken right after a transition.
type TaskEvent struct {
	ID           uuid.UUID         `json:"id"`
	Type         EventType         `json:"type"`
	TaskID       uuid.UUID         `json:"task_id"`
	UserID       string            `json:"user_id"`
	IngredientID string            `json:"ingredient_id"`
	Status       domain.TaskStatus `json:"status"`
	Progress     int               `json:"progress"`
	RetryCount   int               `json:"retry_count"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// NewTaskEvent captures the task's current state as an event of the given type.
func NewTaskEvent(eventType EventType, task *domain.ProcessingTask, now time.Time) *TaskEvent {
	return &TaskEvent{
		ID:           uuid.New(),
		Type:         eventType,
		TaskID:       task.ID,
		UserID:       task.UserID,
		IngredientID: task.Ingredient.ID,
		Status:       task.Status,
		Progress:     task.Progress,
		RetryCount:   task.RetryCount,
		OccurredAt:   now,
	}
}

// EventHandler reacts to emitted events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events to registered handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent does nothing.
func (NopEmitter) EmitEvent(context.Context, *TaskEvent) error { return nil }
