package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/queue"
	"github.com/arbor-coach/arbor/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"

	healthProbeTimeout = 5 * time.Second
)

// healthReport accumulates per-component checks and tracks the worst
// status seen. Degraded never overrides unhealthy.
type healthReport struct {
	overall string
	checks  map[string]HealthCheck
}

func newHealthReport() *healthReport {
	return &healthReport{overall: statusHealthy, checks: make(map[string]HealthCheck)}
}

func (r *healthReport) record(component, status, message string) {
	r.checks[component] = HealthCheck{Status: status, Message: message}
	switch status {
	case statusUnhealthy:
		r.overall = statusUnhealthy
	case statusDegraded:
		if r.overall == statusHealthy {
			r.overall = statusDegraded
		}
	}
}

// healthHandler handles GET /health. The response is minimal and safe for
// unauthenticated probes. Only the service's own components are checked:
// database, worker pool, event bus. LLM providers stay out of it so the
// orchestrator does not restart this service over an upstream outage.
func (s *Server) healthHandler(c *echo.Context) error {
	probeCtx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	report := newHealthReport()

	// Queue depth doubles as the database ping.
	if _, err := s.stores.Jobs.CountByStatus(probeCtx); err != nil {
		report.record("database", statusUnhealthy, err.Error())
	} else {
		report.record("database", statusHealthy, "")
	}

	var poolHealth *queue.PoolHealth
	if s.pool != nil {
		poolHealth = s.pool.Health()
		switch {
		case poolHealth == nil || poolHealth.IsHealthy:
			report.record("worker_pool", statusHealthy, "")
		case poolHealth.DBError != "":
			report.record("worker_pool", statusDegraded, poolHealth.DBError)
		default:
			report.record("worker_pool", statusDegraded, "no workers running")
		}
	}

	if s.listener != nil {
		if s.listener.Running() {
			report.record("event_bus", statusHealthy, "")
		} else {
			// Live updates are broken but intake still works.
			report.record("event_bus", statusDegraded, "notification listener not running")
		}
	}

	code := http.StatusOK
	if report.overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, &HealthResponse{
		Status:        report.overall,
		Version:       version.GitCommit,
		Checks:        report.checks,
		Configuration: ConfigurationStats(s.cfg.Stats()),
		WorkerPool:    poolHealth,
	})
}
