package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	auditActions    *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	violations      *prometheus.CounterVec
}

// NewMetrics initializes the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clearledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	auditActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearledger_audit_actions_total",
		Help: "Audited actions by action, resource type, success and tenant.",
	}, []string{"action", "resource_type", "success", "tenant_id"})
	auditFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearledger_audit_failures_total",
		Help: "Audited actions that reported failure.",
	}, []string{"action", "resource_type", "tenant_id"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearledger_compliance_violations_total",
		Help: "Recorded compliance violations by standard and severity.",
	}, []string{"standard", "severity"})
	registry.MustRegister(requests, duration, auditActions, auditFailures, violations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		auditActions:    auditActions,
		auditFailures:   auditFailures,
		violations:      violations,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAction counts one audited action. A second failure counter fires
// only when the action did not succeed.
func (m *Metrics) ObserveAction(action, resourceType, tenantID string, success bool) {
	if m == nil {
		return
	}
	m.auditActions.WithLabelValues(action, resourceType, strconv.FormatBool(success), tenantID).Inc()
	if !success {
		m.auditFailures.WithLabelValues(action, resourceType, tenantID).Inc()
	}
}

// ObserveViolation counts one recorded compliance violation.
func (m *Metrics) ObserveViolation(standard, severity string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(standard, severity).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
