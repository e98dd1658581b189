package jobcore

import (
	"context"
	"encoding/json"
	"time"
)

// Handle is the fluent scheduling entry point for a registered job class.
// jobregistry.For, jobregistry.MustFor and jobregistry.Class.For construct
// these from a registered Class; application code never builds one directly.
type Handle struct {
	Handler     string
	Queue       string
	Priority    int
	MaxAttempts int
	New         func() Job

	opts SetOpts
}

// NewHandle constructs a Handle from a class's declared defaults.
func NewHandle(handler, queue string, priority, maxAttempts int, newFn func() Job) *Handle {
	return &Handle{
		Handler:     handler,
		Queue:       queue,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		New:         newFn,
	}
}

// Set returns a copy of h with opts layered over the class defaults. It
// never mutates h, so a registered Handle can be reused across calls with
// different overrides.
func (h *Handle) Set(opts SetOpts) *Handle {
	cp := *h
	cp.opts = opts
	return &cp
}

func (h *Handle) queue() string {
	if h.opts.Queue != nil {
		return *h.opts.Queue
	}
	return h.Queue
}

func (h *Handle) priority() int {
	if h.opts.Priority != nil {
		return *h.opts.Priority
	}
	return h.Priority
}

// PerformLater schedules args for asynchronous execution through the
// configured adapter, applying this Handle's Set overrides (if any) over
// its class defaults.
func (h *Handle) PerformLater(ctx context.Context, args json.RawMessage) (*JobRecord, error) {
	if !json.Valid(args) {
		return nil, wrapScheduling(errArgsNotJSON)
	}
	spec := ScheduleSpec{
		Handler:  h.Handler,
		Args:     args,
		Queue:    h.queue(),
		Priority: h.priority(),
		RunAt:    h.opts.ResolveRunAt(time.Now()),
	}
	return Schedule(ctx, spec)
}

// PerformNow instantiates the class via New and calls Perform in-process
// immediately, bypassing the adapter and the durable store entirely.
func (h *Handle) PerformNow(ctx context.Context, args json.RawMessage) error {
	if h.New == nil {
		return WrapPerformError(ErrPerformNotImplemented)
	}
	return h.New().Perform(ctx, args)
}
