package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/store"
)

// TaskCounts tallies a user's tasks by status.
type TaskCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one task.
func (c *TaskCounts) Add(status domain.TaskStatus) {
	c.Total++
	switch status {
	case domain.TaskStatusPending:
		c.Pending++
	case domain.TaskStatusProcessing:
		c.Processing++
	case domain.TaskStatusCompleted:
		c.Completed++
	case domain.TaskStatusFailed:
		c.Failed++
	}
}

// TaskList is a user's tasks, newest first, with their counts.
type TaskList struct {
	Tasks  []*domain.ProcessingTask
	Counts TaskCounts
}

// TaskStatusService exposes a user's tasks for polling.
type TaskStatusService interface {
	// ListTasks returns the user's live tasks and their counts by status.
	ListTasks(ctx context.Context, userID string) (*TaskList, error)

	// GetTask returns one task. It fails with ErrTaskNotFound when the task
	// does not exist and with ErrNotOwned when it belongs to another user.
	GetTask(ctx context.Context, userID string, taskID uuid.UUID) (*domain.ProcessingTask, error)

	// ClearTasks deletes all of the user's tasks and returns how many index
	// entries were removed.
	ClearTasks(ctx context.Context, userID string) (int, error)
}

// taskStatusServiceImpl implements the TaskStatusService interface
type taskStatusServiceImpl struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewTaskStatusService creates a new TaskStatusService.
// It returns an error if the store is nil.
func NewTaskStatusService(taskStore store.TaskStore, logger *slog.Logger) (TaskStatusService, error) {
	if taskStore == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "taskStore cannot be nil",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskStatusServiceImpl{
		store:  taskStore,
		logger: logger.With("component", "task_status_service"),
	}, nil
}

// ListTasks implements TaskStatusService.
func (s *taskStatusServiceImpl) ListTasks(ctx context.Context, userID string) (*TaskList, error) {
	tasks, err := s.store.ListUserTasks(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list tasks",
			"error", err,
			"user_id", userID)
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}

	list := &TaskList{Tasks: tasks}
	for _, t := range tasks {
		list.Counts.Add(t.Status)
	}
	return list, nil
}

// GetTask implements TaskStatusService.
func (s *taskStatusServiceImpl) GetTask(
	ctx context.Context,
	userID string,
	taskID uuid.UUID,
) (*domain.ProcessingTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if !store.IsNotFoundError(err) {
			s.logger.Error("failed to get task",
				"error", err,
				"task_id", taskID,
				"user_id", userID)
		}
		return nil, NewTaskServiceError("get_task", "failed to get task", err)
	}

	if task.UserID != userID {
		s.logger.Warn("task requested by non-owner",
			"task_id", taskID,
			"user_id", userID)
		return nil, ErrNotOwned
	}
	return task, nil
}

// ClearTasks implements TaskStatusService.
func (s *taskStatusServiceImpl) ClearTasks(ctx context.Context, userID string) (int, error) {
	n, err := s.store.ClearUserTasks(ctx, userID)
	if err != nil {
		s.logger.Error("failed to clear tasks",
			"error", err,
			"user_id", userID)
		return 0, NewTaskServiceError("clear_tasks", "failed to clear tasks", err)
	}
	return n, nil
}
