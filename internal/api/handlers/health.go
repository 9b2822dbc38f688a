package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
)

// Check verifies one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	service  string
	version  string
	checks   map[string]Check
	breakers func() []circuitbreaker.HealthStatus
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHealthHandler creates a new handler. breakers may be nil.
func NewHealthHandler(service, version string, checks map[string]Check, breakers func() []circuitbreaker.HealthStatus, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		service:  service,
		version:  version,
		checks:   checks,
		breakers: breakers,
		timeout:  2 * time.Second,
		logger:   logger,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.service,
		"version": h.version,
	})
}

type readiness struct {
	Status   string                        `json:"status"`
	Checks   map[string]string             `json:"checks"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers,omitempty"`
}

// Ready handles GET /ready. Any failed check makes the service unready. An
// open breaker is reported but does not fail readiness because the API
// degrades to cached data.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := readiness{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers()
		sort.Slice(resp.Breakers, func(i, j int) bool { return resp.Breakers[i].Name < resp.Breakers[j].Name })
	}
	writeJSON(w, code, resp)
}
