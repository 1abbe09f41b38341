package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveActionCountsFailuresSeparately(t *testing.T) {
	m := NewMetrics()
	m.ObserveAction("role_assigned", "USER", "t1", true)
	m.ObserveAction("role_assigned", "USER", "t1", false)
	m.ObserveAction("role_assigned", "USER", "t1", false)

	if got := testutil.ToFloat64(m.auditActions.WithLabelValues("role_assigned", "USER", "false", "t1")); got != 2 {
		t.Fatalf("expected 2 failed actions, got %v", got)
	}
	if got := testutil.ToFloat64(m.auditFailures.WithLabelValues("role_assigned", "USER", "t1")); got != 2 {
		t.Fatalf("expected 2 failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.auditActions.WithLabelValues("role_assigned", "USER", "true", "t1")); got != 1 {
		t.Fatalf("expected 1 successful action, got %v", got)
	}
}

func TestObserveViolation(t *testing.T) {
	m := NewMetrics()
	m.ObserveViolation("GDPR", "HIGH")
	m.ObserveViolation("GDPR", "HIGH")

	if got := testutil.ToFloat64(m.violations.WithLabelValues("GDPR", "HIGH")); got != 2 {
		t.Fatalf("expected 2 violations, got %v", got)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/anything", nil))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("unknown", "418")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clearledger_http_requests_total") {
		t.Fatal("expected request counter in exposition")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAction("x", "USER", "", true)
	m.ObserveViolation("GDPR", "LOW")
	if m.Registerer() == nil {
		t.Fatal("nil metrics should fall back to the default registerer")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics handler, got %d", rec.Code)
	}
}
