package tenant

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

// Handler exposes tenant management endpoints.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	trail    *audit.Trail
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, trail *audit.Trail, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, manager: manager, trail: trail, validate: validator.New(), rbac: mw}
}

// MountRoutes registers tenant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceTenant, rbac.PermWrite))
		r.Post("/", h.createTenant)
		r.Post("/{tenantID}/deactivate", h.deactivateTenant)
		r.Put("/{tenantID}/isolation", h.setIsolation)
		r.Post("/{tenantID}/users/{userID}", h.assignUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceTenant, rbac.PermRead))
		r.Get("/{tenantID}", h.getTenant)
		r.Get("/{tenantID}/limits", h.limits)
	})
	r.Post("/access-check", h.accessCheck)
	r.Post("/filter", h.filterResources)
}

type createTenantRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	t, err := h.manager.CreateTenant(req.Name, req.Description, req.Metadata)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Create Tenant Failed", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "tenant_created", string(rbac.ResourceTenant), t.ID, true, "", nil)
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.manager.GetTenant(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) deactivateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ok := h.manager.DeactivateTenant(tenantID)
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "tenant_deactivated", string(rbac.ResourceTenant), tenantID, ok, "", nil)
	httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": ok})
}

type setIsolationRequest struct {
	IsolationLevel string   `json:"isolation_level" validate:"required"`
	AllowedTypes   []string `json:"allowed_resource_types"`
}

func (h *Handler) setIsolation(w http.ResponseWriter, r *http.Request) {
	var req setIsolationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	level, err := ParseIsolationLevel(req.IsolationLevel)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allowed := make([]rbac.ResourceType, 0, len(req.AllowedTypes))
	for _, raw := range req.AllowedTypes {
		allowed = append(allowed, rbac.ResourceType(raw))
	}
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.manager.SetIsolationLevel(tenantID, level, allowed); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "tenant_isolation_updated", string(rbac.ResourceTenant), tenantID, true, "", map[string]any{
		"isolation_level": string(level),
	})
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) assignUser(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	if err := h.manager.AssignUser(userID, tenantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Assignment Failed", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "tenant_user_assigned", string(rbac.ResourceTenant), tenantID, true, "", map[string]any{"user_id": userID})
	httpx.JSON(w, http.StatusOK, map[string]any{"assigned": true})
}

func (h *Handler) limits(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.ValidateLimits(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type filterRequest struct {
	Resources   []map[string]any `json:"resources"`
	TenantField string           `json:"tenant_field"`
}

func (h *Handler) filterResources(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	filtered := h.manager.FilterResources(sec, req.Resources, req.TenantField)
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": filtered})
}

type accessCheckRequest struct {
	ResourceTenantID string `json:"resource_tenant_id"`
	ResourceType     string `json:"resource_type"`
}

func (h *Handler) accessCheck(w http.ResponseWriter, r *http.Request) {
	var req accessCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	allowed := h.manager.ValidateAccess(sec, req.ResourceTenantID, rbac.ResourceType(req.ResourceType))
	h.trail.Log(r.Context(), sec, "tenant_access_check", req.ResourceType, req.ResourceTenantID, allowed, "", nil)
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
