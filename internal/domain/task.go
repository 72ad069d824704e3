package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// DefaultMaxRetries is the retry budget used when none is configured.
const DefaultMaxRetries = 3

// Common validation errors for ProcessingTask
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskUserID   = errors.New("task user ID cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidProgress   = errors.New("task progress must be between 0 and 100")
	ErrInvalidRetryCount = errors.New("task retry count must be between 0 and max retries")
)

// ProcessingTask is one unit of simulated ingredient-processing work owned by
// a user. The ingredient is a value copy taken at creation, so catalog changes
// never affect tasks already in flight.
type ProcessingTask struct {
	ID               uuid.UUID  `json:"id"`
	UserID           string     `json:"user_id"`
	Ingredient       Ingredient `json:"ingredient"`
	Status           TaskStatus `json:"status"`
	Progress         int        `json:"progress"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	EstimatedEndTime *time.Time `json:"estimated_end_time,omitempty"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewProcessingTask creates a pending task for the given user and ingredient snapshot.
// Returns an error if validation fails.
func NewProcessingTask(userID string, ingredient Ingredient, maxRetries int, now time.Time) (*ProcessingTask, error) {
	if err := ingredient.Validate(); err != nil {
		return nil, err
	}

	now = now.UTC()
	task := &ProcessingTask{
		ID:         uuid.New(),
		UserID:     userID,
		Ingredient: ingredient,
		Status:     TaskStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the ProcessingTask has valid data.
func (t *ProcessingTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.UserID == "" {
		return ErrEmptyTaskUserID
	}
	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}
	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}
	if t.MaxRetries < 0 || t.RetryCount < 0 || t.RetryCount > t.MaxRetries {
		return ErrInvalidRetryCount
	}
	return nil
}

// IsTerminal reports whether the task reached completed or failed.
func (t *ProcessingTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// CanRetry reports whether a failed attempt may be followed by another one.
func (t *ProcessingTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Touch stamps the task as updated at now without changing its state.
func (t *ProcessingTask) Touch(now time.Time) {
	t.UpdatedAt = now.UTC()
}

// Start moves a pending task to processing and records the attempt start.
// remaining is the expected time until the attempt finishes.
func (t *ProcessingTask) Start(now time.Time, remaining time.Duration) error {
	if t.Status != TaskStatusPending {
		return t.transitionError(TaskStatusProcessing)
	}

	now = now.UTC()
	eta := now.Add(remaining)
	t.Status = TaskStatusProcessing
	t.StartTime = &now
	t.EndTime = nil
	t.EstimatedEndTime = &eta
	t.UpdatedAt = now
	return nil
}

// Advance records new progress for a processing task. Progress never moves
// backwards within an attempt.
func (t *ProcessingTask) Advance(progress int, now time.Time, remaining time.Duration) error {
	if t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: cannot advance %s task", ErrInvalidTransition, t.Status)
	}
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	if progress < t.Progress {
		return fmt.Errorf("%w: progress %d is behind %d", ErrInvalidProgress, progress, t.Progress)
	}

	now = now.UTC()
	eta := now.Add(remaining)
	t.Progress = progress
	t.EstimatedEndTime = &eta
	t.UpdatedAt = now
	return nil
}

// Complete marks a processing task as successfully finished.
func (t *ProcessingTask) Complete(now time.Time) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusCompleted)
	}

	now = now.UTC()
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.EndTime = &now
	t.EstimatedEndTime = nil
	t.UpdatedAt = now
	return nil
}

// Retry sends a processing task back to pending for another attempt,
// consuming one unit of the retry budget and resetting progress.
func (t *ProcessingTask) Retry(now time.Time) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusPending)
	}
	if !t.CanRetry() {
		return fmt.Errorf("%w: %d of %d retries used", ErrRetryBudgetExhausted, t.RetryCount, t.MaxRetries)
	}

	now = now.UTC()
	t.Status = TaskStatusPending
	t.RetryCount++
	t.Progress = 0
	t.StartTime = &now
	t.EndTime = nil
	t.EstimatedEndTime = nil
	t.UpdatedAt = now
	return nil
}

// Fail marks a processing task as terminally failed.
func (t *ProcessingTask) Fail(now time.Time) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusFailed)
	}

	now = now.UTC()
	t.Status = TaskStatusFailed
	t.EndTime = &now
	t.EstimatedEndTime = nil
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the task.
func (t *ProcessingTask) Clone() *ProcessingTask {
	c := *t
	c.StartTime = cloneTime(t.StartTime)
	c.EndTime = cloneTime(t.EndTime)
	c.EstimatedEndTime = cloneTime(t.EstimatedEndTime)
	return &c
}

func (t *ProcessingTask) transitionError(to TaskStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
}

func cloneTime(tm *time.Time) *time.Time {
	if tm == nil {
		return nil
	}
	v := *tm
	return &v
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
