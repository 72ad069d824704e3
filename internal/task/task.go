package task

import (
	"context"

	"github.com/phrazzld/pantry-api/internal/queue"
)

// Outcome summarises what handling a message did to its task.
type Outcome string

const (
	// OutcomeCompleted means the attempt succeeded.
	OutcomeCompleted Outcome = "completed"

	// OutcomeRetried means the attempt failed and another was scheduled.
	OutcomeRetried Outcome = "retried"

	// OutcomeFailed means the attempt failed with no retries left.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the message had nothing left to do.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeAbandoned means the attempt stopped part way, on an error or
	// cancellation.
	OutcomeAbandoned Outcome = "abandoned"
)

// MessageHandler processes one queue message.
type MessageHandler interface {
	Process(ctx context.Context, msg queue.Message) (Outcome, error)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg queue.Message) (Outcome, error)

// Process calls f.
func (f MessageHandlerFunc) Process(ctx context.Context, msg queue.Message) (Outcome, error) {
	return f(ctx, msg)
}
