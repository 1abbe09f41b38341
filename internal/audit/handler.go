package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/shared"
)

// Handler exposes audit trail endpoints.
type Handler struct {
	logger *slog.Logger
	trail  *Trail
	cache  *RecentCache
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, trail *Trail, cache *RecentCache) *Handler {
	return &Handler{logger: logger, trail: trail, cache: cache}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/logs", h.listLogs)
	r.Get("/recent", h.recent)
	r.Post("/logs", h.logAction)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		UserID:       q.Get("user_id"),
		TenantID:     q.Get("tenant_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "success must be a boolean")
			return
		}
		filter.Success = &success
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		filter.To = to
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": h.trail.Query(filter)})
}

func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": h.trail.Query(Filter{Limit: 50})})
		return
	}
	n := int64(50)
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			n = parsed
		}
	}
	entries, err := h.cache.Recent(r.Context(), n)
	if err != nil {
		// Cache reads are best-effort; fall back to the in-memory trail.
		h.logger.Warn("audit cache read failed", slog.Any("error", err))
		entries = h.trail.Query(Filter{Limit: int(n)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type logRequest struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Success      bool           `json:"success"`
	Error        string         `json:"error"`
	Metadata     map[string]any `json:"metadata"`
}

func (h *Handler) logAction(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if req.Action == "" || req.ResourceType == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "action and resource_type are required")
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	entry := h.trail.Log(r.Context(), sec, req.Action, req.ResourceType, req.ResourceID, req.Success, req.Error, req.Metadata)
	httpx.JSON(w, http.StatusAccepted, entry)
}
