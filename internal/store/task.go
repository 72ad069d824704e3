package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
)

// TaskStore defines the interface for persisting processing tasks and the
// per-user task index.
// Version: 1.0
type TaskStore interface {
	// CreateTask persists a new pending task for the user and prepends its
	// ID to the user's index.
	CreateTask(ctx context.Context, userID string, ingredient domain.Ingredient) (*domain.ProcessingTask, error)

	// CreateTasks persists one pending task per ingredient and adds all of
	// their IDs to the user's index in a single index write.
	CreateTasks(ctx context.Context, userID string, ingredients []domain.Ingredient) ([]*domain.ProcessingTask, error)

	// GetTask retrieves a task by its ID.
	// Returns ErrTaskNotFound if the task does not exist or has expired.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.ProcessingTask, error)

	// ListUserTasks returns the user's tasks, newest first. IDs whose record
	// has expired are skipped rather than failing the whole listing.
	ListUserTasks(ctx context.Context, userID string) ([]*domain.ProcessingTask, error)

	// SaveTask overwrites the mutable fields of an existing task.
	// The write only succeeds if task.Version matches the stored version;
	// otherwise ErrStaleTask is returned. Saving a task whose state is
	// already stored is a no-op. On success task.Version is updated.
	SaveTask(ctx context.Context, task *domain.ProcessingTask) error

	// ClearUserTasks deletes every task referenced by the user's index and
	// then the index itself. Returns the number of indexed task IDs.
	ClearUserTasks(ctx context.Context, userID string) (int, error)

	// ListTasksByStatus returns tasks in the given status across all users.
	// If olderThan is non-zero, only tasks not updated within that duration
	// are returned.
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.ProcessingTask, error)
}
