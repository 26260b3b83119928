// Package metrics exposes Prometheus metrics for the premium key manager.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// Redemption results.
const (
	ResultSuccess         = "success"
	ResultNotFound        = "not_found"
	ResultAlreadyRedeemed = "already_redeemed"
	ResultExpired         = "expired"
	ResultError           = "error"
)

// Revocation reasons.
const (
	ReasonExpiry   = "expiry"
	ReasonDeletion = "deletion"
)

// Sync directions.
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// Metrics holds all collectors. All methods are safe on a nil *Metrics,
// which disables recording.
type Metrics struct {
	registry *prometheus.Registry

	KeysGenerated       prometheus.Counter
	KeysDeleted         prometheus.Counter
	KeysModified        prometheus.Counter
	Redemptions         *prometheus.CounterVec
	RoleGrantFailures   prometheus.Counter
	RolesRevoked        *prometheus.CounterVec
	NotificationErrors  prometheus.Counter
	PersistenceFailures prometheus.Counter
	KeysByState         *prometheus.GaugeVec

	ReconcileRuns        prometheus.Counter
	ReconcileErrors      prometheus.Counter
	ReconcileDuration    prometheus.Histogram
	ReconcileLastRunTime prometheus.Gauge

	SyncRows   *prometheus.CounterVec
	SyncErrors *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "premium"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		KeysGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "generated_total",
			Help: "Number of premium keys generated",
		}),
		KeysDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "deleted_total",
			Help: "Number of premium keys deleted by administrators",
		}),
		KeysModified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "modified_total",
			Help: "Number of duration modifications",
		}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "redemptions_total",
			Help: "Redemption attempts by result",
		}, []string{"result"}),
		RoleGrantFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "roles", Name: "grant_failures_total",
			Help: "Role grants that failed after a committed redemption",
		}),
		RolesRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "roles", Name: "revoked_total",
			Help: "Premium roles removed by reason",
		}, []string{"reason"}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "errors_total",
			Help: "Direct messages or audit posts that could not be delivered",
		}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "persistence_failures_total",
			Help: "Snapshot saves or loads that failed",
		}),
		KeysByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "keys", Name: "current",
			Help: "Keys in the authoritative store by aggregate",
		}, []string{"aggregate"}),

		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "runs_total",
			Help: "Completed reconcile cycles",
		}),
		ReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "errors_total",
			Help: "Per-member errors encountered during reconcile cycles",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "duration_seconds",
			Help:    "Duration of reconcile cycles",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		}),
		ReconcileLastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last completed reconcile cycle",
		}),

		SyncRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "rows_total",
			Help: "Rows copied between the authoritative and secondary stores",
		}, []string{"direction"}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "errors_total",
			Help: "Sync failures by direction",
		}, []string{"direction"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.KeysGenerated, m.KeysDeleted, m.KeysModified, m.Redemptions,
		m.RoleGrantFailures, m.RolesRevoked, m.NotificationErrors,
		m.PersistenceFailures, m.KeysByState,
		m.ReconcileRuns, m.ReconcileErrors, m.ReconcileDuration, m.ReconcileLastRunTime,
		m.SyncRows, m.SyncErrors,
		m.HTTPRequests, m.HTTPRequestDuration,
	)

	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordGenerated counts a generated key.
func (m *Metrics) RecordGenerated() {
	if m == nil {
		return
	}
	m.KeysGenerated.Inc()
}

// RecordDeleted counts a deleted key.
func (m *Metrics) RecordDeleted() {
	if m == nil {
		return
	}
	m.KeysDeleted.Inc()
}

// RecordModified counts a duration change.
func (m *Metrics) RecordModified() {
	if m == nil {
		return
	}
	m.KeysModified.Inc()
}

// RecordRedemption counts a redemption attempt with its result.
func (m *Metrics) RecordRedemption(result string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(result).Inc()
}

// RecordRoleGrantFailure counts a failed post-commit role grant.
func (m *Metrics) RecordRoleGrantFailure() {
	if m == nil {
		return
	}
	m.RoleGrantFailures.Inc()
}

// RecordRoleRevoked counts a removed role.
func (m *Metrics) RecordRoleRevoked(reason string) {
	if m == nil {
		return
	}
	m.RolesRevoked.WithLabelValues(reason).Inc()
}

// RecordNotificationError counts an undelivered notification.
func (m *Metrics) RecordNotificationError() {
	if m == nil {
		return
	}
	m.NotificationErrors.Inc()
}

// RecordPersistenceFailure counts a failed snapshot load or save.
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

// SetKeyStats publishes the current aggregate key counts.
func (m *Metrics) SetKeyStats(stats domain.KeyStats) {
	if m == nil {
		return
	}
	m.KeysByState.WithLabelValues("total").Set(float64(stats.Total))
	m.KeysByState.WithLabelValues("active").Set(float64(stats.Active))
	m.KeysByState.WithLabelValues("redeemed").Set(float64(stats.Redeemed))
	m.KeysByState.WithLabelValues("expired").Set(float64(stats.Expired))
}

// RecordReconcileRun records one completed reconcile cycle.
func (m *Metrics) RecordReconcileRun(duration time.Duration, errors int) {
	if m == nil {
		return
	}
	m.ReconcileRuns.Inc()
	m.ReconcileErrors.Add(float64(errors))
	m.ReconcileDuration.Observe(duration.Seconds())
	m.ReconcileLastRunTime.SetToCurrentTime()
}

// RecordSync records rows copied in one sync direction.
func (m *Metrics) RecordSync(direction string, rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SyncErrors.WithLabelValues(direction).Inc()
	}
	if rows > 0 {
		m.SyncRows.WithLabelValues(direction).Add(float64(rows))
	}
}

// Middleware records request counts and latencies labeled with the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
