// Package bootstrap holds the startup plumbing shared by every binary in
// this module: building the configured logger and the storage Adapter a
// config.Config selects, so cmd/jobs, cmd/adminserver, and cmd/seed don't
// each reimplement it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/outpostlabs/jobengine/config"
	"github.com/outpostlabs/jobengine/internal/adapter/embedded"
	"github.com/outpostlabs/jobengine/internal/adapter/postgres"
	"github.com/outpostlabs/jobengine/internal/health"
	ctxlog "github.com/outpostlabs/jobengine/internal/log"
	"github.com/outpostlabs/jobengine/internal/jobcore"
)

// NewLogger builds the process logger: a colorized tint handler in local
// dev, structured JSON otherwise, both wrapped to stamp request_id onto
// every record that carries one in its context.
func NewLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

// Store bundles an opened Adapter with its health Pinger (nil for the
// embedded driver) and a cleanup func to call on shutdown.
type Store struct {
	Adapter jobcore.Adapter
	Pinger  health.Pinger
	Close   func()
}

// OpenStore opens the Adapter cfg.StoreDriver selects.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case "embedded":
		a, err := embedded.Open(cfg.EmbeddedStorePath, cfg.MaxClaimRetries)
		if err != nil {
			return nil, fmt.Errorf("open embedded store: %w", err)
		}
		return &Store{
			Adapter: a,
			Pinger:  nil,
			Close:   func() { _ = a.Close() },
		}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		a := postgres.New(pool, cfg.MaxClaimRetries)
		return &Store{
			Adapter: a,
			Pinger:  pool,
			Close:   func() { pool.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", jobcore.ErrUnknownAdapterModel, cfg.StoreDriver)
	}
}
