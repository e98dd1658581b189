package jobcore

import (
	"context"
	"sync/atomic"
)

// configured holds the process-wide Adapter set by Configure. Application
// code calls Schedule without threading an Adapter through every call site,
// mirroring how database/sql holds a process-wide *DB once Open succeeds.
var configured atomic.Pointer[Adapter]

// Configure sets the adapter every subsequent Schedule call uses. It is
// meant to run once, at process startup, before any job is scheduled.
func Configure(a Adapter) {
	configured.Store(&a)
}

// ConfigureForTest is Configure under a name that makes its call sites
// self-documenting in _test.go files; it carries no different behavior.
func ConfigureForTest(a Adapter) {
	Configure(a)
}

// Reset clears the configured adapter. Tests call it in cleanup so a
// forgotten ConfigureForTest in one test can't leak into the next.
func Reset() {
	configured.Store(nil)
}

// CurrentAdapter returns the process-wide adapter, or nil if none has been
// configured yet.
func CurrentAdapter() Adapter {
	p := configured.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Schedule persists spec against the configured adapter. It is the
// low-level entry point fluent callers (Handle.PerformLater)
// build on; most application code never calls it directly.
func Schedule(ctx context.Context, spec ScheduleSpec) (*JobRecord, error) {
	a := CurrentAdapter()
	if a == nil {
		return nil, wrapScheduling(ErrAdapterNotConfigured)
	}
	record, err := a.Schedule(ctx, spec)
	if err != nil {
		return nil, wrapScheduling(err)
	}
	return record, nil
}
