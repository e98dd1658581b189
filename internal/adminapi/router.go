package adminapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/outpostlabs/jobengine/internal/adminapi/middleware"
	"github.com/outpostlabs/jobengine/internal/health"
)

// NewRouter wires the admin API: JWT-gated job inspection/retry routes plus
// unauthenticated liveness/readiness endpoints for the orchestrator.
// Prometheus metrics are served by metrics.NewServer, not by this router.
func NewRouter(jobHandler *JobHandler, checker *health.Checker, jwtKey []byte, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), sloggin.New(logger), middleware.Metrics())

	r.GET("/livez", func(c *gin.Context) { c.JSON(200, checker.Liveness(c.Request.Context())) })
	r.GET("/readyz", func(c *gin.Context) { c.JSON(200, checker.Readiness(c.Request.Context())) })

	jobs := r.Group("/jobs", middleware.Auth(jwtKey))
	jobs.GET("", jobHandler.List)
	jobs.GET("/:id", jobHandler.Get)
	jobs.POST("/:id/retry", jobHandler.Retry)

	return r
}
