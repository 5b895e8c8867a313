package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker verifies one dependency is reachable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Check calls f.
func (f HealthCheckFunc) Check(ctx context.Context) error { return f(ctx) }

const healthCheckTimeout = 2 * time.Second

// HandleHealth reports overall service health.
// GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealthLive is the liveness probe: the process is up.
// GET /health/live
func (s *Server) HandleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleHealthReady is the readiness probe: configured dependencies must
// answer within the timeout.
// GET /health/ready
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]HealthChecker{
		"database": s.DBHealth,
		"storage":  s.S3Health,
	}

	status := http.StatusOK
	detail := make(map[string]string, len(checks))
	for name, check := range checks {
		if check == nil {
			continue
		}
		if err := check.Check(ctx); err != nil {
			detail[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			detail[name] = "ok"
		}
	}

	body := map[string]any{"status": "ready", "checks": detail}
	if status != http.StatusOK {
		body["status"] = "not ready"
	}
	writeJSON(w, status, body)
}
