package config

import (
	"time"

	"github.com/phrazzld/pantry-api/internal/domain"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`

	// Catalog replaces the built-in ingredient table when non-empty.
	Catalog []domain.Ingredient `mapstructure:"catalog" validate:"omitempty,dive"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"                     validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level"                validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// ShutdownTimeout is the grace period given to in-flight HTTP requests.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig selects the key-value backend for task records.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres sqlite"`

	// URL is a postgres connection string or a sqlite file path.
	URL string `mapstructure:"url" validate:"required_unless=Driver memory"`
}

// QueueConfig selects and tunes the message queue.
type QueueConfig struct {
	Driver                   string `mapstructure:"driver"                     validate:"required,oneof=memory sql"`
	Name                     string `mapstructure:"name"                       validate:"required"`
	Capacity                 int    `mapstructure:"capacity"                   validate:"gt=0"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds" validate:"gt=0"`
	PollIntervalMS           int    `mapstructure:"poll_interval_ms"           validate:"gt=0"`
}

// VisibilityTimeout is how long a received message stays leased.
func (c QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// PollInterval is the SQL queue's empty-poll delay.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// TaskConfig tunes task creation, processing and housekeeping.
type TaskConfig struct {
	WorkerCount                   int `mapstructure:"worker_count"                      validate:"gt=0"`
	BatchSize                     int `mapstructure:"batch_size"                        validate:"gt=0,lte=100"`
	MaxRetries                    int `mapstructure:"max_retries"                       validate:"gte=0"`
	ProgressStep                  int `mapstructure:"progress_step"                     validate:"gt=0,lte=100"`
	MinStepIntervalMS             int `mapstructure:"min_step_interval_ms"              validate:"gte=0"`
	RetentionHours                int `mapstructure:"retention_hours"                   validate:"gt=0"`
	StuckTaskAgeMinutes           int `mapstructure:"stuck_task_age_minutes"            validate:"gt=0"`
	StuckTaskCheckIntervalSeconds int `mapstructure:"stuck_task_check_interval_seconds" validate:"gt=0"`
}

// MinStepInterval floors the delay between progress steps.
func (c TaskConfig) MinStepInterval() time.Duration {
	return time.Duration(c.MinStepIntervalMS) * time.Millisecond
}

// Retention is the TTL of task records and user indexes.
func (c TaskConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// StuckTaskAge is how long a task may go without an update before the
// sweep requeues it.
func (c TaskConfig) StuckTaskAge() time.Duration {
	return time.Duration(c.StuckTaskAgeMinutes) * time.Minute
}

// StuckTaskCheckInterval is the period of the sweep.
func (c TaskConfig) StuckTaskCheckInterval() time.Duration {
	return time.Duration(c.StuckTaskCheckIntervalSeconds) * time.Second
}

// BuildCatalog returns the configured catalog, or the built-in one when
// none is configured.
func (c *Config) BuildCatalog() (*domain.Catalog, error) {
	if len(c.Catalog) == 0 {
		return domain.DefaultCatalog(), nil
	}
	return domain.NewCatalog(c.Catalog)
}
