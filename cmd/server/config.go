package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/pantry-api/internal/config"
	"github.com/phrazzld/pantry-api/internal/platform/logger"
	"github.com/phrazzld/pantry-api/internal/redact"
)

// loadConfig loads the dotenv file, then configuration, then sets up the
// structured logger writing to logOutput.
func loadConfig(envFile string, logOutput io.Writer) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Output: logOutput,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"database_driver", cfg.Database.Driver,
		"database_url", redact.DSN(cfg.Database.URL),
		"queue_driver", cfg.Queue.Driver,
		"port", cfg.Server.Port)
	return cfg, log, nil
}
