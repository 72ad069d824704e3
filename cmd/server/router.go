package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/pantry-api/internal/api"
	apiMiddleware "github.com/phrazzld/pantry-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler, err := api.NewTaskHandler(app.producer, app.statusService, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task handler: %w", err)
	}
	ingredientHandler, err := api.NewIngredientHandler(app.catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingredient handler: %w", err)
	}
	maintenanceHandler, err := api.NewMaintenanceHandler(app.taskRunner, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance handler: %w", err)
	}
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/ingredients", ingredientHandler.ListIngredients)

			r.Post("/tasks", taskHandler.SubmitTasks)
			r.Get("/tasks", taskHandler.ListTasks)
			r.Delete("/tasks", taskHandler.ClearTasks)
			r.Get("/tasks/{id}", taskHandler.GetTask)

			// Manual stuck-task sweep, scoped to the caller
			r.Post("/tasks/sweep", maintenanceHandler.SweepTasks)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r, nil
}
