package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. PANTRY_SERVER_PORT for server.port.
const EnvPrefix = "PANTRY"

// ConfigFileEnv names the environment variable holding an explicit config
// file path.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// ErrIncompatibleBackends is returned when the SQL queue is selected without
// a SQL database to host it.
var ErrIncompatibleBackends = errors.New("queue driver sql requires a postgres or sqlite database")

// setDefaults registers a default for every key, which also makes each key
// visible to viper's AutomaticEnv lookup.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.name", "ingredient-tasks")
	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.visibility_timeout_seconds", 30)
	v.SetDefault("queue.poll_interval_ms", 250)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.batch_size", 10)
	v.SetDefault("task.max_retries", 3)
	v.SetDefault("task.progress_step", 5)
	v.SetDefault("task.min_step_interval_ms", 500)
	v.SetDefault("task.retention_hours", 1)
	v.SetDefault("task.stuck_task_age_minutes", 5)
	v.SetDefault("task.stuck_task_check_interval_seconds", 60)
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. A missing file is not an error; variables already set in the
// environment are left untouched.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// The file is taken from PANTRY_CONFIG_FILE, or config.yaml in the working
// directory when present.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to searching the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Queue.Driver == "sql" && cfg.Database.Driver == "memory" {
		return fmt.Errorf("configuration validation failed: %w", ErrIncompatibleBackends)
	}
	if _, err := cfg.BuildCatalog(); err != nil {
		return fmt.Errorf("configuration validation failed: invalid catalog: %w", err)
	}
	return nil
}
