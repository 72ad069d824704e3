package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/pantry-api/internal/api/shared"
	"github.com/phrazzld/pantry-api/internal/platform/logger"
)

// Sweeper requeues a user's tasks that stopped making progress.
type Sweeper interface {
	SweepUser(ctx context.Context, userID string) int
}

// MaintenanceHandler exposes operational actions on the pipeline.
type MaintenanceHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(sweeper Sweeper, logger *slog.Logger) (*MaintenanceHandler, error) {
	if sweeper == nil {
		return nil, errors.New("sweeper cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceHandler{
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "maintenance_handler")),
	}, nil
}

// SweepTasks handles POST /api/tasks/sweep requests by requeuing the
// caller's stuck tasks immediately instead of waiting for the next
// scheduled pass. Other users' tasks are left to the scheduled sweep.
func (h *MaintenanceHandler) SweepTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		log.Warn("user ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	requeued := h.sweeper.SweepUser(r.Context(), userID)
	log.Info("manual sweep finished",
		slog.String("user_id", userID),
		slog.Int("requeued", requeued))

	shared.RespondWithJSON(w, r, http.StatusOK, SweepResponse{Requeued: requeued})
}
