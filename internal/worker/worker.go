// Package worker runs the poll loop that claims and executes jobs: one
// cooperative, single-threaded loop per process. Parallelism comes from
// running more processes, not more goroutines inside one.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/outpostlabs/jobengine/internal/executor"
	"github.com/outpostlabs/jobengine/internal/jobcore"
	"github.com/outpostlabs/jobengine/internal/jobregistry"
	"github.com/outpostlabs/jobengine/internal/metrics"
	"github.com/outpostlabs/jobengine/internal/notify"
)

// Options configures a Worker. Zero values are replaced with the engine's
// documented defaults in New.
type Options struct {
	Queue           string
	MaxAttempts     int
	MaxRuntime      time.Duration
	WaitTime        time.Duration
	MaxClaimRetries int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 24
	}
	if o.MaxRuntime == 0 {
		o.MaxRuntime = 4 * time.Hour
	}
	if o.WaitTime == 0 {
		o.WaitTime = 5 * time.Second
	}
	if o.MaxClaimRetries == 0 {
		o.MaxClaimRetries = 3
	}
	return o
}

// Worker polls an Adapter for claimable records and runs each through an
// Executor. A Worker is single-use: call Run once per process lifetime.
type Worker struct {
	id       string
	adapter  jobcore.Adapter
	registry *jobregistry.Registry
	logger   *slog.Logger
	opts     Options
	notifier notify.Sender

	workoff bool
	forever atomic.Bool
}

// New builds a Worker identified by id (used as LockedBy and in logs).
// When workoff is true, Run exits as soon as a poll finds nothing claimable
// instead of sleeping and retrying (the `jobs workoff` CLI mode).
func New(id string, adapter jobcore.Adapter, registry *jobregistry.Registry, logger *slog.Logger, opts Options, workoff bool) *Worker {
	w := &Worker{
		id:       id,
		adapter:  adapter,
		registry: registry,
		logger:   logger.With("component", "worker", "worker_id", id),
		opts:     opts.withDefaults(),
		workoff:  workoff,
	}
	w.forever.Store(!workoff)
	return w
}

// SetNotifier attaches the notify.Sender every Executor spawned by Run will
// use to alert on terminal job failures.
func (w *Worker) SetNotifier(n notify.Sender) {
	w.notifier = n
}

// DefaultID builds the `rw-jobs-worker[.<queue>].<pid>` process identity
// used to label LockedBy and log lines; `jobs start` names each worker's
// pidfile the same way. The OS process title is not changed.
func DefaultID(queue string) string {
	if queue == "" {
		return fmt.Sprintf("rw-jobs-worker.%d", os.Getpid())
	}
	return fmt.Sprintf("rw-jobs-worker.%s.%d", queue, os.Getpid())
}

// Stop flips the graceful-drain flag: the in-flight Perform (if any) runs
// to completion, then Run returns instead of polling again. Call it from a
// SIGINT handler.
func (w *Worker) Stop() {
	w.forever.Store(false)
}

// Run executes the poll loop until ctx is cancelled, the graceful-drain
// flag is cleared via Stop, or (in workoff mode) a poll finds nothing
// claimable.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started", "queue", w.opts.Queue, "workoff", w.workoff)
	metrics.WorkerStartTime.SetToCurrentTime()
	defer metrics.WorkerShutdownsTotal.Inc()

	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "worker stopping: context cancelled")
			return nil
		}
		if !w.forever.Load() {
			w.logger.InfoContext(ctx, "worker stopping: graceful drain requested")
			return nil
		}

		record, err := w.claim(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "claim failed", "error", err)
			if !w.sleepOrExit(ctx) {
				return nil
			}
			continue
		}

		if record == nil {
			if w.workoff {
				w.logger.InfoContext(ctx, "worker exiting: queue empty (workoff)")
				return nil
			}
			if !w.sleepOrExit(ctx) {
				return nil
			}
			continue
		}

		w.logger.InfoContext(ctx, "job claimed", "job_id", record.ID, "handler", record.Handler, "attempts", record.Attempts)
		if !record.CreatedAt.IsZero() {
			metrics.JobPickupLatency.Observe(time.Since(record.CreatedAt).Seconds())
		}

		ex, err := executor.New(w.adapter, w.registry, record, w.opts.MaxAttempts, w.logger)
		if err != nil {
			w.logger.ErrorContext(ctx, "executor setup failed", "error", err)
			continue
		}
		if w.notifier != nil {
			ex.SetNotifier(w.notifier)
		}
		if err := ex.Perform(ctx); err != nil {
			w.logger.ErrorContext(ctx, "recording job outcome failed", "job_id", record.ID, "error", err)
		}
	}
}

func (w *Worker) claim(ctx context.Context) (*jobcore.JobRecord, error) {
	opts := jobcore.FindOptions{
		ProcessName: w.id,
		MaxRuntime:  w.opts.MaxRuntime,
		Queue:       w.opts.Queue,
	}

	var lastErr error
	for attempt := 0; attempt < w.opts.MaxClaimRetries; attempt++ {
		record, err := w.adapter.Find(ctx, opts)
		if err == nil {
			return record, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// sleepOrExit sleeps for waitTime, interruptible by ctx cancellation or a
// Stop() call. It returns false if the worker should exit instead of
// polling again.
func (w *Worker) sleepOrExit(ctx context.Context) bool {
	timer := time.NewTimer(w.opts.WaitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return w.forever.Load()
	}
}
