package rbac

import (
	"log/slog"
	"net/http"

	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/shared"
)

// Middleware wires authorization checks into HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the current principal holds the requested permission.
// Requests without an authenticated security context are rejected.
func (m Middleware) Require(rt ResourceType, pt PermissionType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sec := shared.SecurityFromContext(r.Context())
			if !sec.Authenticated() {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			principal, err := m.Service.GetPrincipal(sec.UserID)
			if err != nil {
				// Principals arrive from the identity provider; build one
				// from the context claims when not yet registered.
				principal = m.Service.UpsertPrincipal(Principal{
					ID:       sec.UserID,
					TenantID: sec.TenantID,
					RoleIDs:  sec.Roles,
					Status:   PrincipalActive,
				})
			}
			if !m.Service.CheckPermission(principal, rt, pt) {
				if m.Logger != nil {
					m.Logger.Warn("permission denied",
						slog.String("user", sec.UserID),
						slog.String("resource", string(rt)),
						slog.String("action", string(pt)))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
