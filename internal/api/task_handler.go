package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/api/shared"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/platform/logger"
	"github.com/phrazzld/pantry-api/internal/service"
)

// TaskSubmitter turns an ingredient selection into queued tasks.
type TaskSubmitter interface {
	SubmitSelection(ctx context.Context, userID string, ingredientIDs []string) ([]*domain.ProcessingTask, error)
}

// TaskHandler handles task submission and status HTTP requests.
type TaskHandler struct {
	submitter TaskSubmitter
	status    service.TaskStatusService
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	submitter TaskSubmitter,
	status service.TaskStatusService,
	logger *slog.Logger,
) (*TaskHandler, error) {
	if submitter == nil {
		return nil, errors.New("task submitter cannot be nil")
	}
	if status == nil {
		return nil, errors.New("task status service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskHandler{
		submitter: submitter,
		status:    status,
		logger:    logger.With(slog.String("component", "task_handler")),
	}, nil
}

// requireUserID returns the authenticated user or writes a 401.
func requireUserID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		log.Warn("user ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return "", false
	}
	return userID, true
}

// SubmitTasks handles POST /api/tasks requests.
// Processing happens asynchronously, so the created tasks are returned with
// 202 Accepted while still pending.
func (h *TaskHandler) SubmitTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	var req SubmitTasksRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	tasks, err := h.submitter.SubmitSelection(r.Context(), userID, req.IngredientIDs)
	if err != nil {
		message := ""
		if MapErrorToStatusCode(err) == http.StatusInternalServerError {
			message = "Failed to submit tasks"
		}
		HandleAPIError(w, r, err, message)
		return
	}

	log.Debug("submitted ingredient selection",
		slog.String("user_id", userID),
		slog.Int("requested", len(req.IngredientIDs)),
		slog.Int("created", len(tasks)))

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTasksResponse{Tasks: tasksToResponse(tasks)})
}

// ListTasks handles GET /api/tasks requests.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	list, err := h.status.ListTasks(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:  tasksToResponse(list.Tasks),
		Counts: list.Counts,
	})
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	idParam := chi.URLParam(r, "id")
	taskID, err := uuid.Parse(idParam)
	if err != nil {
		log.Debug("invalid task id", slog.String("value", idParam))
		HandleAPIError(w, r, domain.ErrInvalidID, "Invalid task ID")
		return
	}

	t, err := h.status.GetTask(r.Context(), userID, taskID)
	if err != nil {
		message := ""
		if MapErrorToStatusCode(err) == http.StatusInternalServerError {
			message = "Failed to get task"
		}
		HandleAPIError(w, r, err, message)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ClearTasks handles DELETE /api/tasks requests.
func (h *TaskHandler) ClearTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	deleted, err := h.status.ClearTasks(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to clear tasks")
		return
	}

	log.Info("cleared user tasks", slog.String("user_id", userID), slog.Int("deleted", deleted))
	shared.RespondWithJSON(w, r, http.StatusOK, ClearTasksResponse{Deleted: deleted})
}
