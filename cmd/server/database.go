package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/pantry-api/internal/config"
	"github.com/phrazzld/pantry-api/internal/platform/memory"
	"github.com/phrazzld/pantry-api/internal/platform/sqlstore"
	"github.com/phrazzld/pantry-api/internal/queue"
	"github.com/phrazzld/pantry-api/internal/store"
)

const driverMemory = "memory"

// openDatabase connects to the configured SQL database. It returns nil for
// the memory driver.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlstore.DB, error) {
	if cfg.Database.Driver == driverMemory {
		return nil, nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(ctx, dialect, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return db, nil
}

// kvBackend is a KV that can also drop expired entries.
type kvBackend interface {
	store.KV
	store.Purger
}

// newKV returns the KV for the configured driver. db is nil for memory.
func newKV(db *sqlstore.DB) kvBackend {
	if db == nil {
		return memory.NewKVStore()
	}
	return sqlstore.NewKVStore(db)
}

// newQueue returns the queue for the configured driver, plus a close
// function for backends that hold resources of their own.
func newQueue(cfg config.QueueConfig, db *sqlstore.DB, logger *slog.Logger) (queue.Queue, func(), error) {
	switch cfg.Driver {
	case driverMemory:
		q := memory.NewQueue(cfg.Capacity, cfg.VisibilityTimeout(), logger)
		return q, q.Close, nil
	case "sql":
		if db == nil {
			return nil, nil, config.ErrIncompatibleBackends
		}
		q := sqlstore.NewQueue(db, sqlstore.QueueConfig{
			Name:         cfg.Name,
			Visibility:   cfg.VisibilityTimeout(),
			PollInterval: cfg.PollInterval(),
		}, logger)
		return q, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}
