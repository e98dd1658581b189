package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is populated from the environment once at process boot and
// shared by every binary in this module (cmd/jobs, cmd/adminserver,
// cmd/seed).
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	// StoreDriver selects the Adapter implementation: "postgres" or
	// "embedded". DatabaseURL is required for postgres; EmbeddedStorePath
	// is required for embedded.
	StoreDriver       string `env:"STORE_DRIVER" envDefault:"postgres" validate:"required,oneof=postgres embedded"`
	DatabaseURL       string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	EmbeddedStorePath string `env:"EMBEDDED_STORE_PATH" envDefault:"./jobengine.db"`

	Queue           string `env:"QUEUE" envDefault:""`
	MaxAttempts     int    `env:"MAX_ATTEMPTS" envDefault:"24" validate:"min=1,max=1000"`
	MaxRuntimeSec   int    `env:"MAX_RUNTIME_SEC" envDefault:"14400" validate:"min=1"`
	WaitTimeMs      int    `env:"WAIT_TIME_MS" envDefault:"5000" validate:"min=1"`
	MaxClaimRetries int    `env:"MAX_CLAIM_RETRIES" envDefault:"3" validate:"min=1,max=20"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// RunDir holds pidfiles written by `jobs start` and read by `jobs stop`.
	RunDir string `env:"JOBS_RUN_DIR" envDefault:"./tmp/pids"`

	JWTSecret    string `env:"JWT_SECRET,required" validate:"required"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
	ResendTo     string `env:"RESEND_TO"      validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
