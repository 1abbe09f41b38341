package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/shared"
)

// Handler exposes access-control endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	trail    *audit.Trail
	validate *validator.Validate
	rbac     Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, trail *audit.Trail, mw Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		trail:    trail,
		validate: validator.New(),
		rbac:     mw,
	}
}

// MountRoutes registers access-control routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.checkPermission)
	r.Get("/permissions", h.listPermissions)
	r.Get("/users/{userID}/permissions", h.userPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(ResourceRole, PermWrite))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}/permissions", h.updateRolePermissions)
		r.Post("/users/{userID}/roles/{roleID}", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.removeRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(ResourceRole, PermRead))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}", h.getRole)
	})
}

type checkRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	ResourceType   string `json:"resource_type" validate:"required"`
	PermissionType string `json:"permission_type" validate:"required"`
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, err := h.service.GetPrincipal(req.UserID)
	if err != nil {
		// Unknown principals are simply denied.
		principal = nil
	}
	allowed := h.service.CheckPermission(principal, ResourceType(req.ResourceType), PermissionType(req.PermissionType))
	h.trail.Log(r.Context(), shared.SecurityFromContext(r.Context()), "permission_check", req.ResourceType, req.UserID, allowed, "", map[string]any{
		"permission_type": req.PermissionType,
	})
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.service.Catalog().All()})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	principal, err := h.service.GetPrincipal(userID)
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.service.UserPermissions(principal)})
}

type createRoleRequest struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name" validate:"required"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateCustomRole(req.ID, req.Name, req.Description, req.PermissionIDs)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Create Role Failed", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "role_created", string(ResourceRole), role.ID, true, "", nil)
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.service.ListRoles()})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type updatePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	roleID := chi.URLParam(r, "roleID")
	role, err := h.service.UpdateRolePermissions(roleID, req.PermissionIDs)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "role_permissions_updated", string(ResourceRole), roleID, true, "", nil)
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.AssignRole(userID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "role_assigned", string(ResourceUser), userID, true, "", map[string]any{"role_id": roleID})
	httpx.JSON(w, http.StatusOK, map[string]any{"assigned": true})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.RemoveRole(userID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "role_removed", string(ResourceUser), userID, true, "", map[string]any{"role_id": roleID})
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": true})
}
