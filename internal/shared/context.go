package shared

import (
	"context"
	"time"
)

// SecurityContext carries the authenticated principal and tenant scope for a
// request. It is assembled by the identity middleware from upstream
// identity-provider headers; this service performs no credential checks.
type SecurityContext struct {
	UserID    string
	TenantID  string
	Roles     []string
	SessionID string
	IPAddress string
	IssuedAt  time.Time
}

// Authenticated reports whether the context identifies a principal.
func (s *SecurityContext) Authenticated() bool {
	return s != nil && s.UserID != ""
}

type securityContextKey struct{}

// ContextWithSecurity stores the security context in ctx.
func ContextWithSecurity(ctx context.Context, sec *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sec)
}

// SecurityFromContext extracts the security context from ctx.
func SecurityFromContext(ctx context.Context) *SecurityContext {
	sec, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sec
}
