package api

import (
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/service"
)

// SubmitTasksRequest defines the payload for submitting an ingredient selection.
type SubmitTasksRequest struct {
	IngredientIDs []string `json:"ingredient_ids" validate:"required,min=1,max=10,unique,dive,required"`
}

// IngredientResponse is the public view of a catalog entry.
type IngredientResponse struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Emoji                 string  `json:"emoji,omitempty"`
	Description           string  `json:"description,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	FailureRate           float64 `json:"failure_rate"`
}

// TaskResponse represents the response data for a processing task.
type TaskResponse struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	Ingredient       IngredientResponse `json:"ingredient"`
	Status           string             `json:"status"`
	Progress         int                `json:"progress"`
	RetryCount       int                `json:"retry_count"`
	MaxRetries       int                `json:"max_retries"`
	StartTime        *time.Time         `json:"start_time,omitempty"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	EstimatedEndTime *time.Time         `json:"estimated_end_time,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// SubmitTasksResponse lists the tasks created for a selection.
type SubmitTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// TaskListResponse is the status projection polled by clients.
type TaskListResponse struct {
	Tasks  []TaskResponse     `json:"tasks"`
	Counts service.TaskCounts `json:"counts"`
}

// ClearTasksResponse reports how many task IDs were removed.
type ClearTasksResponse struct {
	Deleted int `json:"deleted"`
}

// SweepResponse reports how many stuck tasks a manual sweep requeued.
type SweepResponse struct {
	Requeued int `json:"requeued"`
}

func ingredientToResponse(ing domain.Ingredient) IngredientResponse {
	return IngredientResponse{
		ID:                    ing.ID,
		Name:                  ing.Name,
		Emoji:                 ing.Emoji,
		Description:           ing.Description,
		ProcessingTimeSeconds: ing.ProcessingTimeSeconds,
		FailureRate:           ing.FailureRate,
	}
}

func taskToResponse(t *domain.ProcessingTask) TaskResponse {
	return TaskResponse{
		ID:               t.ID.String(),
		UserID:           t.UserID,
		Ingredient:       ingredientToResponse(t.Ingredient),
		Status:           string(t.Status),
		Progress:         t.Progress,
		RetryCount:       t.RetryCount,
		MaxRetries:       t.MaxRetries,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		EstimatedEndTime: t.EstimatedEndTime,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func tasksToResponse(tasks []*domain.ProcessingTask) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}
