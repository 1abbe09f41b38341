package tenant

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

func newTestRouter(t *testing.T) (*Manager, chi.Router) {
	t.Helper()
	manager := NewManager(slog.Default())
	trail := audit.NewTrail(slog.Default(), nil)
	rbacService := rbac.NewService(slog.Default(), rbac.Options{})
	mw := rbac.Middleware{Service: rbacService, Logger: slog.Default()}
	h := NewHandler(slog.Default(), manager, trail, mw)
	r := chi.NewRouter()
	r.Route("/tenants", h.MountRoutes)
	return manager, r
}

func asAdmin(r *http.Request) *http.Request {
	sec := &shared.SecurityContext{UserID: "admin-1", TenantID: DefaultTenantID, Roles: []string{rbac.RoleAdmin}}
	return r.WithContext(shared.ContextWithSecurity(r.Context(), sec))
}

func TestCreateTenantEndpoint(t *testing.T) {
	manager, router := newTestRouter(t)
	body := []byte(`{"name":"Acme Capital","description":"brokerage"}`)

	// Tenant management requires tenant write; anonymous callers get 401.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tenants/", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/tenants/", bytes.NewReader(body))))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, IsolationStrict, created.IsolationLevel)

	stored, err := manager.GetTenant(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Capital", stored.Name)
}

func TestDeactivateEndpointReportsDefaultRefusal(t *testing.T) {
	_, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/tenants/default/deactivate", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["deactivated"])
}

func TestSetIsolationEndpoint(t *testing.T) {
	manager, router := newTestRouter(t)
	created, _ := manager.CreateTenant("Acme", "", nil)

	body := []byte(`{"isolation_level":"moderate","allowed_resource_types":["COMPLIANCE_REPORT"]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPut, "/tenants/"+created.ID+"/isolation", bytes.NewReader(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := manager.GetTenant(created.ID)
	assert.Equal(t, IsolationModerate, stored.IsolationLevel)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPut, "/tenants/"+created.ID+"/isolation", bytes.NewReader([]byte(`{"isolation_level":"open"}`)))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessCheckEndpoint(t *testing.T) {
	manager, router := newTestRouter(t)
	other, _ := manager.CreateTenant("Other", "", nil)

	// Access checks are open to any authenticated caller; the default
	// tenant's strict isolation denies the cross-tenant read.
	body := mustJSON(map[string]string{
		"resource_tenant_id": other.ID,
		"resource_type":      string(rbac.ResourceFinancialData),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/tenants/access-check", bytes.NewReader(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["allowed"])

	// Same-tenant access is always allowed.
	body = mustJSON(map[string]string{
		"resource_tenant_id": DefaultTenantID,
		"resource_type":      string(rbac.ResourceFinancialData),
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/tenants/access-check", bytes.NewReader(body))))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["allowed"])
}

func TestFilterEndpoint(t *testing.T) {
	manager, router := newTestRouter(t)
	other, _ := manager.CreateTenant("Other", "", nil)

	body := mustJSON(map[string]any{
		"resources": []map[string]any{
			{"id": "r1", "tenant_id": DefaultTenantID},
			{"id": "r2", "tenant_id": other.ID},
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/tenants/filter", bytes.NewReader(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Resources []map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "r1", resp.Resources[0]["id"])
}

func TestLimitsEndpoint(t *testing.T) {
	manager, router := newTestRouter(t)
	created, _ := manager.CreateTenant("Acme", "", nil)
	require.NoError(t, manager.AssignUser("u1", created.ID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/tenants/"+created.ID+"/limits", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var report LimitsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Users.Current)
	assert.True(t, report.WithinLimits)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/tenants/ghost/limits", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
