package tenant

import (
	"fmt"
	"time"

	"github.com/clearledger/clearledger/internal/rbac"
)

// IsolationLevel controls cross-tenant resource visibility.
type IsolationLevel string

const (
	// IsolationStrict denies all cross-tenant access.
	IsolationStrict IsolationLevel = "strict"
	// IsolationModerate allows cross-tenant access for allow-listed
	// resource types only.
	IsolationModerate IsolationLevel = "moderate"
	// IsolationShared allows all cross-tenant access.
	IsolationShared IsolationLevel = "shared"
)

// ParseIsolationLevel validates an isolation level string.
func ParseIsolationLevel(raw string) (IsolationLevel, error) {
	switch IsolationLevel(raw) {
	case IsolationStrict, IsolationModerate, IsolationShared:
		return IsolationLevel(raw), nil
	}
	return "", fmt.Errorf("tenant: unsupported isolation level %q", raw)
}

// Status captures the tenant lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Quotas bounds tenant resource consumption.
type Quotas struct {
	MaxUsers               int `json:"max_users"`
	MaxValidationsPerMonth int `json:"max_validations_per_month"`
	MaxStorageGB           int `json:"max_storage_gb"`
}

// Tenant is one isolated customer boundary. The "default" tenant always
// exists and can never be deactivated.
type Tenant struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	IsolationLevel     IsolationLevel      `json:"isolation_level"`
	CrossTenantAllowed []rbac.ResourceType `json:"cross_tenant_allowed"`
	Quotas             Quotas              `json:"quotas"`
	Status             Status              `json:"status"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Active reports whether the tenant accepts new members and resources.
func (t *Tenant) Active() bool {
	return t != nil && t.Status == StatusActive
}

// UsageMetric pairs a quota with its current consumption. Limit <= 0 means
// unlimited.
type UsageMetric struct {
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
	Within  bool `json:"within"`
}

// LimitsReport summarizes quota consumption for a tenant. Validation and
// storage usage are not metered yet and always read zero; only the user
// count is live.
type LimitsReport struct {
	TenantID     string      `json:"tenant_id"`
	Users        UsageMetric `json:"users"`
	Validations  UsageMetric `json:"validations"`
	StorageGB    UsageMetric `json:"storage_gb"`
	WithinLimits bool        `json:"within_limits"`
}
