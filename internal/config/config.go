package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	// RunMigrations applies pending goose migrations at startup.
	RunMigrations bool `mapstructure:"run_migrations"`
}

// TaskConfig configures the asynchronous task subsystem.
type TaskConfig struct {
	// WorkerCount is the size of the worker pool.
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1"`

	// MaxRetries bounds how many times a transiently failing task is rescheduled.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryDelay is the fixed countdown before a rescheduled task becomes ready again.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`

	// PollInterval is how often idle workers look for ready tasks.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// Broker selects the queue implementation: "memory" or "redis".
	// With "redis" the queue survives restarts, but only one server runs
	// tasks per task store; a second instance fails to start its runner.
	Broker        string `mapstructure:"broker" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Broker redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}
