package jobcore

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel error kinds, named by trigger rather than by type per the
// taxonomy this engine follows throughout.
var (
	ErrAdapterNotConfigured  = errors.New("jobcore: no adapter configured")
	ErrAdapterRequired       = errors.New("jobcore: executor requires an adapter")
	ErrRegistryRequired      = errors.New("jobcore: executor requires a job registry")
	ErrJobRequired           = errors.New("jobcore: executor requires a job record")
	ErrPerformNotImplemented = errors.New("jobcore: job class has no constructor")
	ErrUnknownAdapterModel   = errors.New("jobcore: unknown adapter model")
	ErrJobNotFound           = errors.New("jobcore: handler not registered")

	errArgsNotJSON = errors.New("jobcore: args must be valid JSON")
)

// SchedulingError wraps any failure raised while scheduling a job. It is
// always returned to the caller of PerformLater — the application is trying
// to do something and deserves to know it didn't happen.
type SchedulingError struct {
	Cause error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule job: %s", e.Cause)
}

func (e *SchedulingError) Unwrap() error { return e.Cause }

func wrapScheduling(err error) error {
	if err == nil {
		return nil
	}
	return &SchedulingError{Cause: err}
}

// PerformError wraps any failure raised while executing a job's Perform
// method. The Executor consumes it and routes it to Adapter.Failure; it is
// never re-raised to a caller.
type PerformError struct {
	Cause error
}

func (e *PerformError) Error() string {
	return fmt.Sprintf("perform job: %s", e.Cause)
}

func (e *PerformError) Unwrap() error { return e.Cause }

// WrapPerformError wraps err as a PerformError, used at every execution
// failure point (user class errors, missing handlers, panics recovered at
// the Executor boundary).
func WrapPerformError(err error) error {
	if err == nil {
		return nil
	}
	var perr *PerformError
	if errors.As(err, &perr) {
		return err
	}
	return &PerformError{Cause: err}
}

// stackTracer is satisfied by github.com/pkg/errors values (errors wrapped
// by the embedded adapter, for instance); plain fmt.Errorf /
// errors.New values do not implement it, and FormatError falls back to the
// bare message in that case.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// FormatError renders an error's message and, if available, its captured
// stack trace, joined by a newline — the persisted form of LastError.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(err.Error())
	var st stackTracer
	if errors.As(err, &st) {
		sb.WriteByte('\n')
		sb.WriteString(fmt.Sprintf("%+v", st.StackTrace()))
	}
	return sb.String()
}
