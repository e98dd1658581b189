// Package executor runs a single claimed job record to completion: resolve
// its handler in the registry, call Perform, and report the outcome back
// to the adapter.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outpostlabs/jobengine/internal/jobcore"
	"github.com/outpostlabs/jobengine/internal/jobregistry"
	"github.com/outpostlabs/jobengine/internal/metrics"
	"github.com/outpostlabs/jobengine/internal/notify"
)

// Executor wires one claimed JobRecord to its registered handler.
type Executor struct {
	adapter     jobcore.Adapter
	registry    *jobregistry.Registry
	record      *jobcore.JobRecord
	logger      *slog.Logger
	maxAttempts int
	notifier    notify.Sender
}

// New builds an Executor for record. adapter and registry must not be nil;
// maxAttempts is the retry ceiling this record's class declared.
func New(adapter jobcore.Adapter, registry *jobregistry.Registry, record *jobcore.JobRecord, maxAttempts int, logger *slog.Logger) (*Executor, error) {
	if adapter == nil {
		return nil, jobcore.ErrAdapterRequired
	}
	if registry == nil {
		return nil, jobcore.ErrRegistryRequired
	}
	if record == nil {
		return nil, jobcore.ErrJobRequired
	}
	return &Executor{
		adapter:     adapter,
		registry:    registry,
		record:      record,
		logger:      logger.With("component", "executor", "job_id", record.ID, "handler", record.Handler),
		maxAttempts: maxAttempts,
	}, nil
}

// SetNotifier attaches a notify.Sender that Perform alerts when this job's
// failure is terminal. Leaving it unset is fine: a nil notifier is simply
// not consulted.
func (e *Executor) SetNotifier(n notify.Sender) {
	e.notifier = n
}

// Perform constructs the record's handler, runs it, and records the
// outcome through the adapter. A panic inside Perform is recovered and
// treated as a PerformError rather than crashing the worker process.
func (e *Executor) Perform(ctx context.Context) error {
	start := time.Now()

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	job, constructErr := e.registry.Construct(e.record.Handler)
	if constructErr != nil {
		metrics.JobExecutionDuration.WithLabelValues(e.record.Handler, "error").Observe(time.Since(start).Seconds())
		return e.fail(ctx, jobcore.WrapPerformError(constructErr))
	}

	runErr := e.run(ctx, job)
	duration := time.Since(start)

	if runErr == nil {
		e.logger.InfoContext(ctx, "job succeeded", "duration", duration)
		metrics.JobExecutionDuration.WithLabelValues(e.record.Handler, "success").Observe(duration.Seconds())
		metrics.JobsCompletedTotal.WithLabelValues(e.record.Handler, "success").Inc()
		return e.adapter.Success(ctx, e.record)
	}

	e.logger.WarnContext(ctx, "job failed", "duration", duration, "error", runErr, "attempts", e.record.Attempts+1)
	metrics.JobExecutionDuration.WithLabelValues(e.record.Handler, "error").Observe(duration.Seconds())
	return e.fail(ctx, jobcore.WrapPerformError(runErr))
}

func (e *Executor) run(ctx context.Context, job jobcore.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Perform: %v", r)
		}
	}()
	return job.Perform(ctx, e.record.Args)
}

func (e *Executor) fail(ctx context.Context, cause error) error {
	terminal, err := e.adapter.Failure(ctx, e.record, cause, e.maxAttempts)
	if err != nil {
		return err
	}
	if terminal {
		e.logger.ErrorContext(ctx, "job failed permanently", "error", cause, "attempts", e.record.Attempts)
		metrics.JobsCompletedTotal.WithLabelValues(e.record.Handler, "terminal_failure").Inc()
		metrics.JobsTerminalFailuresTotal.WithLabelValues(e.record.Handler).Inc()
		if e.notifier != nil {
			if notifyErr := e.notifier.NotifyTerminalFailure(ctx, e.record, cause); notifyErr != nil {
				e.logger.ErrorContext(ctx, "terminal failure notification failed", "error", notifyErr)
			}
		}
	} else {
		metrics.JobsCompletedTotal.WithLabelValues(e.record.Handler, "retry").Inc()
	}
	return nil
}
