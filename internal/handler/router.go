// Package handler provides the HTTP API of the premium key manager.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/auth"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/service"
)

// Dependencies holds everything the router needs. Sync, Reconciler and
// Metrics may be nil.
type Dependencies struct {
	Keys       *service.KeyService
	Sync       *service.SyncService
	Reconciler *service.Reconciler
	Metrics    *metrics.Metrics

	// AuthMiddleware guards the admin routes. Nil disables the admin API.
	AuthMiddleware func(http.Handler) http.Handler

	// HealthChecks are reported by /health.
	HealthChecks map[string]HealthChecker

	// MaxBodySize caps request bodies in bytes. Zero leaves the handler default.
	MaxBodySize int64

	Logger zerolog.Logger
}

// NewRouter builds the chi router with its middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))
	r.Use(deps.Metrics.Middleware)
	if deps.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(deps.MaxBodySize))
	}

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks, logger))

	NewKeyHandler(deps.Keys, deps.Sync, logger).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		authMiddleware := deps.AuthMiddleware
		if authMiddleware == nil {
			authMiddleware = auth.Middleware(auth.Config{}, logger)
		}
		r.Use(authMiddleware)
		NewAdminHandler(deps.Keys, deps.Sync, deps.Reconciler, logger).RegisterRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
