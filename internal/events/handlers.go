package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogHandler writes every event to a structured logger. Progress events are
// logged at debug level, transitions at info level.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a handler logging through logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "task_events")}
}

// HandleEvent logs the event.
func (h *LogHandler) HandleEvent(ctx context.Context, event *TaskEvent) error {
	level := slog.LevelInfo
	if event.Type == EventTaskProgress {
		level = slog.LevelDebug
	}
	h.logger.Log(ctx, level, "task event",
		"event_type", event.Type,
		"task_id", event.TaskID,
		"user_id", event.UserID,
		"ingredient_id", event.IngredientID,
		"status", event.Status,
		"progress", event.Progress,
		"retry_count", event.RetryCount)
	return nil
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []TaskEvent
}

// HandleEvent records a copy of the event.
func (r *Recorder) HandleEvent(_ context.Context, event *TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// Events returns the recorded events in arrival order.
func (r *Recorder) Events() []TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types, optionally skipping progress
// events.
func (r *Recorder) Types(skipProgress bool) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		if skipProgress && e.Type == EventTaskProgress {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}
