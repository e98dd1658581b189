// Package jobregistry replaces the distilled spec's directory-scan job
// loader with explicit, compile-time registration: every job class calls
// Register from an init() function in its own source file, the same way
// database/sql drivers register themselves by import side effect.
package jobregistry

import (
	"fmt"
	"sync"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

// Class declares a job handler's identity and scheduling defaults. New
// must construct a fresh jobcore.Job instance able to unmarshal and act on
// the arguments it was scheduled with.
type Class struct {
	Handler     string
	Queue       string
	Priority    int
	MaxAttempts int
	New         func() jobcore.Job
}

func (c Class) queueOrDefault() string {
	if c.Queue == "" {
		return "default"
	}
	return c.Queue
}

func (c Class) priorityOrDefault() int {
	if c.Priority == 0 {
		return 50
	}
	return c.Priority
}

func (c Class) maxAttemptsOrDefault() int {
	if c.MaxAttempts == 0 {
		return 24
	}
	return c.MaxAttempts
}

// Registry maps handler names to their Class. The zero value is ready to
// use; Default is the process-wide registry most code registers against.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Class
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Class)}
}

// Default is the registry Register and Lookup operate on unless a caller
// builds its own Registry for isolation in tests.
var Default = NewRegistry()

// Register adds class to r, keyed by class.Handler. Registering the same
// handler name twice overwrites the earlier registration — the last init()
// to run wins, matching Go's own package-level var initialization rules.
func (r *Registry) Register(class Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.classes == nil {
		r.classes = make(map[string]Class)
	}
	r.classes[class.Handler] = class
}

// Register adds class to the Default registry.
func Register(class Class) {
	Default.Register(class)
}

// Lookup resolves handler to its registered Class, or returns
// jobcore.ErrJobNotFound.
func (r *Registry) Lookup(handler string) (Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.classes[handler]
	if !ok {
		return Class{}, fmt.Errorf("%w: %q", jobcore.ErrJobNotFound, handler)
	}
	return class, nil
}

// Lookup resolves handler against the Default registry.
func Lookup(handler string) (Class, error) {
	return Default.Lookup(handler)
}

// For builds a *jobcore.Handle bound to this Class's defaults. Call it once
// at package scope (or lazily per-call) wherever application code needs
// the fluent PerformLater/PerformNow surface.
func (c Class) For() *jobcore.Handle {
	return jobcore.NewHandle(c.Handler, c.queueOrDefault(), c.priorityOrDefault(), c.maxAttemptsOrDefault(), c.New)
}

// For resolves handler in the Default registry and returns its Handle.
func For(handler string) (*jobcore.Handle, error) {
	class, err := Lookup(handler)
	if err != nil {
		return nil, err
	}
	return class.For(), nil
}

// MustFor is For but panics on lookup failure; meant for package-level var
// initialization where a missing handler is a programmer error, not a
// runtime condition to recover from.
func MustFor(handler string) *jobcore.Handle {
	h, err := For(handler)
	if err != nil {
		panic(err)
	}
	return h
}

// Construct instantiates the Job registered under handler. The Executor
// uses this directly rather than going through a Handle, since it already
// holds a durable JobRecord and has no use for the fluent scheduling API.
func (r *Registry) Construct(handler string) (jobcore.Job, error) {
	class, err := r.Lookup(handler)
	if err != nil {
		return nil, err
	}
	if class.New == nil {
		return nil, fmt.Errorf("%w: %q", jobcore.ErrPerformNotImplemented, handler)
	}
	return class.New(), nil
}
