package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by any storage adapter whose dependency is worth
// probing for readiness. *pgxpool.Pool satisfies it directly; the embedded
// adapter has no network dependency to ping and is wired without one.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that all dependencies are reachable.
type Checker struct {
	dependency string
	pinger     Pinger
	logger     *slog.Logger
	gauge      *prometheus.GaugeVec
}

// NewChecker creates a health checker for dependency (e.g. "postgres") and
// registers its Prometheus gauge. pinger may be nil, in which case
// Readiness reports the dependency as always up — used when the process is
// wired against the embedded adapter, which has nothing to ping.
func NewChecker(dependency string, pinger Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobengine",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		dependency: dependency,
		pinger:     pinger,
		logger:     logger.With("component", "health"),
		gauge:      gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings the configured dependency and reports its status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if c.pinger == nil {
		result.Checks[c.dependency] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues(c.dependency).Set(1)
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.pinger.Ping(checkCtx); err != nil {
		c.logger.Warn("dependency health check failed", "dependency", c.dependency, "error", err)
		result.Status = "down"
		result.Checks[c.dependency] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues(c.dependency).Set(0)
	} else {
		result.Checks[c.dependency] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues(c.dependency).Set(1)
	}

	return result
}
