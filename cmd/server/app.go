package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/pantry-api/internal/config"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/events"
	"github.com/phrazzld/pantry-api/internal/platform/sqlstore"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/service"
	"github.com/phrazzld/pantry-api/internal/service/auth"
	"github.com/phrazzld/pantry-api/internal/store"
	"github.com/phrazzld/pantry-api/internal/task"
)

// application holds all the dependencies for the API server.
type application struct {
	config *config.Config
	logger *slog.Logger

	db         *sqlstore.DB
	queue      queue.Queue
	closeQueue func()

	catalog       *domain.Catalog
	taskStore     store.TaskStore
	producer      *task.Producer
	taskRunner    *task.Runner
	statusService service.TaskStatusService
	jwtService    auth.JWTService
}

// newApplication wires storage, the queue, the task pipeline and the
// services from configuration. On error every resource opened so far is
// released.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	if app.catalog, err = cfg.BuildCatalog(); err != nil {
		return nil, fmt.Errorf("failed to build ingredient catalog: %w", err)
	}

	if app.db, err = openDatabase(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if app.db != nil {
		if _, err = app.db.Migrate(ctx, logger); err != nil {
			return nil, err
		}
	}

	kv := newKV(app.db)
	if app.queue, app.closeQueue, err = newQueue(cfg.Queue, app.db, logger); err != nil {
		return nil, err
	}

	taskStore, err := store.NewKVTaskStore(kv, store.KVTaskStoreConfig{
		Retention:  cfg.Task.Retention(),
		MaxRetries: cfg.Task.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}
	app.taskStore = taskStore

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLogHandler(logger))

	processor, err := task.NewProcessor(taskStore, app.queue, emitter, task.ProcessorConfig{
		ProgressStep:    cfg.Task.ProgressStep,
		MinStepInterval: cfg.Task.MinStepInterval(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task processor: %w", err)
	}

	if app.producer, err = task.NewProducer(taskStore, app.queue, app.catalog, emitter, logger); err != nil {
		return nil, fmt.Errorf("failed to create task producer: %w", err)
	}

	app.taskRunner, err = task.NewRunner(app.queue, app.queue, processor, taskStore, task.RunnerConfig{
		WorkerCount:            cfg.Task.WorkerCount,
		BatchSize:              cfg.Task.BatchSize,
		StuckTaskAge:           cfg.Task.StuckTaskAge(),
		StuckTaskCheckInterval: cfg.Task.StuckTaskCheckInterval(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task runner: %w", err)
	}
	app.taskRunner.SetPurger(kv)
	app.taskRunner.SetEmitter(emitter)

	if app.statusService, err = service.NewTaskStatusService(taskStore, logger); err != nil {
		return nil, fmt.Errorf("failed to create task status service: %w", err)
	}

	if app.jwtService, err = newJWTService(cfg); err != nil {
		return nil, err
	}

	return app, nil
}

func newJWTService(cfg *config.Config) (auth.JWTService, error) {
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	return jwtService, nil
}

// Run starts the task workers and serves HTTP until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	if err := app.taskRunner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	router, err := app.setupRouter()
	if err != nil {
		return err
	}

	return app.startHTTPServer(ctx, router)
}

// cleanup stops the workers, then releases the queue and the database.
// Safe to call on a partially constructed application.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.logger.Info("stopping task runner")
		app.taskRunner.Stop()
	}
	if app.closeQueue != nil {
		app.closeQueue()
	}
	if app.db != nil {
		app.logger.Info("closing database connection")
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}
