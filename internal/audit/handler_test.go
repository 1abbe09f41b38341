package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/shared"
)

func newTestRouter(t *testing.T, cache *RecentCache) (*Trail, chi.Router) {
	t.Helper()
	var sinks []Sink
	if cache != nil {
		sinks = append(sinks, cache)
	}
	trail := NewTrail(slog.Default(), nil, sinks...)
	h := NewHandler(slog.Default(), trail, cache)
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return trail, r
}

func TestListLogsFilters(t *testing.T) {
	trail, router := newTestRouter(t, nil)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	sec := &shared.SecurityContext{UserID: "u1", TenantID: "t1"}
	trail.Log(ctx, sec, "role_assigned", "USER", "u2", true, "", nil)
	trail.Log(ctx, sec, "role_removed", "USER", "u2", false, "denied", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/logs?user_id=u1&success=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "role_assigned", resp.Entries[0].Action)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/logs?success=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/logs?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogActionEndpoint(t *testing.T) {
	trail, router := newTestRouter(t, nil)

	body := []byte(`{"action":"export_generated","resource_type":"COMPLIANCE_REPORT","success":true}`)
	req := httptest.NewRequest(http.MethodPost, "/audit/logs", bytes.NewReader(body))
	sec := &shared.SecurityContext{UserID: "u1", TenantID: "t1"}
	req = req.WithContext(shared.ContextWithSecurity(req.Context(), sec))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var entry Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, 1, trail.Len())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/audit/logs", bytes.NewReader([]byte(`{"success":true}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRecentCache(client, time.Hour, 100)

	trail, router := newTestRouter(t, cache)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	trail.Log(ctx, nil, "compliance_validated", "VALIDATION_REQUEST", "", true, "", nil)
	trail.Log(ctx, nil, "violation_recorded", "FINANCIAL_DATA", "viol_1", true, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/recent?n=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "violation_recorded", resp.Entries[0].Action)
}

func TestRecentFallsBackToTrail(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRecentCache(client, time.Hour, 100)

	trail, router := newTestRouter(t, cache)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	trail.Log(ctx, nil, "compliance_validated", "VALIDATION_REQUEST", "", true, "", nil)

	// Take the cache away; reads fall back to the in-memory trail.
	mr.Close()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
}
