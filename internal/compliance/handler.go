package compliance

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

// Handler exposes compliance endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	trail    *audit.Trail
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, trail *audit.Trail, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, engine: engine, trail: trail, validate: validator.New(), rbac: mw}
}

// MountRoutes registers compliance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/validate", h.validateCompliance)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceComplianceReport, rbac.PermWrite))
		r.Post("/violations", h.recordViolation)
		r.Post("/violations/{violationID}/resolve", h.resolveViolation)
		r.Put("/retention", h.setRetentionPolicy)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceComplianceReport, rbac.PermRead))
		r.Get("/violations/{violationID}", h.getViolation)
		r.Get("/report", h.report)
		r.Get("/retention", h.retentionPolicies)
	})
	r.Post("/gdpr/consent", h.manageConsent)
	r.Post("/gdpr/requests", h.dataRequest)
}

type validateRequest struct {
	Data         map[string]any `json:"data"`
	ResourceType string         `json:"resource_type" validate:"required"`
	Standards    []string       `json:"standards" validate:"required,min=1"`
}

func (h *Handler) validateCompliance(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	standards := make([]Standard, 0, len(req.Standards))
	for _, raw := range req.Standards {
		standard, err := ParseStandard(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		standards = append(standards, standard)
	}
	sec := shared.SecurityFromContext(r.Context())
	result := h.engine.Validate(r.Context(), req.Data, rbac.ResourceType(req.ResourceType), standards, sec)
	h.trail.Log(r.Context(), sec, "compliance_validated", req.ResourceType, "", result.Compliant, "", map[string]any{
		"standards":  req.Standards,
		"violations": len(result.Violations),
	})
	httpx.JSON(w, http.StatusOK, result)
}

type recordViolationRequest struct {
	Standard     string   `json:"standard" validate:"required"`
	Severity     string   `json:"severity" validate:"required"`
	Description  string   `json:"description" validate:"required"`
	ResourceType string   `json:"resource_type" validate:"required"`
	ResourceID   string   `json:"resource_id"`
	Steps        []string `json:"remediation_steps"`
	DeadlineDays int      `json:"deadline_days"`
}

func (h *Handler) recordViolation(w http.ResponseWriter, r *http.Request) {
	var req recordViolationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	standard, err := ParseStandard(req.Standard)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id := h.engine.RecordViolation(r.Context(), standard, Severity(strings.ToUpper(req.Severity)), req.Description,
		rbac.ResourceType(req.ResourceType), req.ResourceID, req.Steps, req.DeadlineDays)
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "violation_recorded", req.ResourceType, id, true, "", map[string]any{
		"standard": req.Standard,
		"severity": req.Severity,
	})
	httpx.JSON(w, http.StatusCreated, map[string]any{"violation_id": id})
}

func (h *Handler) getViolation(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.GetViolation(chi.URLParam(r, "violationID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) resolveViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "violationID")
	if err := h.engine.ResolveViolation(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "violation_resolved", string(rbac.ResourceComplianceReport), id, true, "", nil)
	httpx.JSON(w, http.StatusOK, map[string]any{"resolved": true})
}

type consentRequest struct {
	SubjectID          string   `json:"subject_id" validate:"required"`
	Email              string   `json:"email" validate:"omitempty,email"`
	ConsentGiven       bool     `json:"consent_given"`
	DataCategories     []string `json:"data_categories"`
	ProcessingPurposes []string `json:"processing_purposes"`
}

func (h *Handler) manageConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	subject := h.engine.ManageConsent(req.SubjectID, req.Email, req.ConsentGiven, req.DataCategories, req.ProcessingPurposes)
	sec := shared.SecurityFromContext(r.Context())
	h.trail.Log(r.Context(), sec, "gdpr_consent_updated", string(rbac.ResourceUser), req.SubjectID, true, "", map[string]any{
		"consent_given": req.ConsentGiven,
	})
	httpx.JSON(w, http.StatusOK, subject)
}

type dataRequestBody struct {
	SubjectID   string `json:"subject_id" validate:"required"`
	RequestType string `json:"request_type" validate:"required"`
}

func (h *Handler) dataRequest(w http.ResponseWriter, r *http.Request) {
	var req dataRequestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sec := shared.SecurityFromContext(r.Context())
	result, err := h.engine.ProcessDataRequest(req.SubjectID, RequestType(req.RequestType), sec)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.trail.Log(r.Context(), sec, "gdpr_request_processed", string(rbac.ResourceUser), req.SubjectID, result.Success, result.Error, map[string]any{
		"request_type": req.RequestType,
	})
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var standards []Standard
	for _, raw := range q["standard"] {
		standard, err := ParseStandard(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		standards = append(standards, standard)
	}
	var start, end time.Time
	if raw := q.Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start must be RFC3339")
			return
		}
		start = parsed
	}
	if raw := q.Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end must be RFC3339")
			return
		}
		end = parsed
	}
	httpx.JSON(w, http.StatusOK, h.engine.GenerateReport(standards, start, end))
}

type retentionRequest struct {
	ResourceType   string   `json:"resource_type" validate:"required"`
	RetentionDays  int      `json:"retention_period_days" validate:"required,gt=0"`
	DeletionMethod string   `json:"deletion_method"`
	Standards      []string `json:"standards"`
	AutoDelete     bool     `json:"auto_delete"`
}

func (h *Handler) setRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	standards := make([]Standard, 0, len(req.Standards))
	for _, raw := range req.Standards {
		standard, err := ParseStandard(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		standards = append(standards, standard)
	}
	policy := RetentionPolicy{
		ResourceType:   rbac.ResourceType(req.ResourceType),
		RetentionDays:  req.RetentionDays,
		DeletionMethod: req.DeletionMethod,
		Standards:      standards,
		AutoDelete:     req.AutoDelete,
	}
	if err := h.engine.SetRetentionPolicy(policy); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) retentionPolicies(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": h.engine.RetentionPolicies()})
}
