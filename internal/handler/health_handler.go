package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Health implements HealthChecker.
func (f HealthCheckFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	checks  map[string]HealthChecker
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHealthHandler creates a health handler over named checks. Nil checks are ignored.
func NewHealthHandler(checks map[string]HealthChecker, logger zerolog.Logger) *HealthHandler {
	filtered := make(map[string]HealthChecker, len(checks))
	for name, check := range checks {
		if check != nil {
			filtered[name] = check
		}
	}
	return &HealthHandler{
		checks:  filtered,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("handler", "health").Logger(),
	}
}

// ServeHTTP reports "healthy" or "degraded"; a degraded service answers 503.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := "healthy"
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			status = "degraded"
			results[name] = err.Error()
			h.logger.Warn().Err(err).Str("check", name).Msg("Health check failed")
			continue
		}
		results[name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, envelope{
		"success": code == http.StatusOK,
		"status":  status,
		"checks":  results,
	})
}
