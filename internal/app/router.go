package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/compliance"
	"github.com/clearledger/clearledger/internal/observability"
	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/tenant"
	"github.com/clearledger/clearledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	RBACHandler       *rbac.Handler
	TenantHandler     *tenant.Handler
	ComplianceHandler *compliance.Handler
	AuditHandler      *audit.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	Middlewares       []func(http.Handler) http.Handler
}

// NewRouter constructs the chi.Router with ClearLedger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range params.Middlewares {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.RBACHandler != nil {
			r.Route("/access", params.RBACHandler.MountRoutes)
		}
		if params.TenantHandler != nil {
			r.Route("/tenants", params.TenantHandler.MountRoutes)
		}
		if params.ComplianceHandler != nil {
			r.Route("/compliance", params.ComplianceHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
