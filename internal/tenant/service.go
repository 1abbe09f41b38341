package tenant

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

// ErrNotFound indicates that the requested tenant does not exist.
var ErrNotFound = errors.New("tenant: not found")

// DefaultTenantID names the tenant that always exists and is exempt from
// deactivation.
const DefaultTenantID = "default"

// filterResourceType is the fixed resource type used by the generic
// FilterResources entry point. The caller does not carry per-resource type
// information through that path, so cross-tenant checks approximate with
// validation requests.
const filterResourceType = rbac.ResourceValidationRequest

// Manager owns the tenant registry and enforces isolation. Membership is a
// single tenant per user at any time; the two membership indices are kept in
// sync under one lock.
type Manager struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	userTenant  map[string]string
	tenantUsers map[string]map[string]struct{}
	logger      *slog.Logger
}

// NewManager constructs the manager and creates the undeletable default
// tenant.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		tenants:     make(map[string]*Tenant),
		userTenant:  make(map[string]string),
		tenantUsers: make(map[string]map[string]struct{}),
		logger:      logger,
	}
	m.tenants[DefaultTenantID] = &Tenant{
		ID:             DefaultTenantID,
		Name:           "Default",
		Description:    "Built-in tenant for unscoped principals",
		IsolationLevel: IsolationStrict,
		Quotas:         Quotas{MaxUsers: 0, MaxValidationsPerMonth: 0, MaxStorageGB: 0},
		Status:         StatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	m.tenantUsers[DefaultTenantID] = make(map[string]struct{})
	return m
}

// CreateTenant registers a new tenant with strict isolation by default.
func (m *Manager) CreateTenant(name, description string, metadata map[string]string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tenant: name required")
	}
	t := &Tenant{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    strings.TrimSpace(description),
		IsolationLevel: IsolationStrict,
		Quotas:         Quotas{MaxUsers: 100, MaxValidationsPerMonth: 10000, MaxStorageGB: 50},
		Status:         StatusActive,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	m.tenantUsers[t.ID] = make(map[string]struct{})
	return t, nil
}

// GetTenant fetches a tenant by id.
func (m *Manager) GetTenant(id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// SetIsolationLevel updates a tenant's isolation policy and, for moderate
// isolation, its cross-tenant allow-list.
func (m *Manager) SetIsolationLevel(id string, level IsolationLevel, allowed []rbac.ResourceType) error {
	switch level {
	case IsolationStrict, IsolationModerate, IsolationShared:
	default:
		return shared.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.IsolationLevel = level
	t.CrossTenantAllowed = allowed
	return nil
}

// DeactivateTenant soft-deactivates a tenant. The default tenant is exempt:
// attempts return false without error. Unknown tenants also return false.
func (m *Manager) DeactivateTenant(id string) bool {
	if id == DefaultTenantID {
		m.logger.Warn("refusing to deactivate default tenant")
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false
	}
	t.Status = StatusDeactivated
	return true
}

// AssignUser moves a user into a tenant. The target must be active; any
// prior membership is removed first, preserving the single-tenant-per-user
// invariant.
func (m *Manager) AssignUser(userID, tenantID string) error {
	if userID == "" {
		return errors.New("tenant: user id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	if !target.Active() {
		return errors.New("tenant: cannot assign to inactive tenant")
	}
	if prior, ok := m.userTenant[userID]; ok {
		delete(m.tenantUsers[prior], userID)
	}
	m.userTenant[userID] = tenantID
	if m.tenantUsers[tenantID] == nil {
		m.tenantUsers[tenantID] = make(map[string]struct{})
	}
	m.tenantUsers[tenantID][userID] = struct{}{}
	return nil
}

// UserTenant returns the tenant a user belongs to, if any.
func (m *Manager) UserTenant(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.userTenant[userID]
	return id, ok
}

// ValidateAccess reports whether the security context may touch a resource
// owned by resourceTenantID. Same-tenant access is always allowed; otherwise
// the caller's tenant isolation level decides.
func (m *Manager) ValidateAccess(sec *shared.SecurityContext, resourceTenantID string, rt rbac.ResourceType) bool {
	if !sec.Authenticated() {
		return false
	}
	if sec.TenantID == resourceTenantID {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[sec.TenantID]
	if !ok {
		return false
	}
	switch t.IsolationLevel {
	case IsolationStrict:
		return false
	case IsolationModerate:
		for _, allowed := range t.CrossTenantAllowed {
			if allowed == rt {
				return true
			}
		}
		return false
	case IsolationShared:
		return true
	}
	return false
}

// FilterResources keeps resources whose tenant matches the caller's, or
// which the isolation policy admits. Resources are generic attribute maps;
// tenantField names the key carrying the owning tenant id.
func (m *Manager) FilterResources(sec *shared.SecurityContext, resources []map[string]any, tenantField string) []map[string]any {
	if tenantField == "" {
		tenantField = "tenant_id"
	}
	out := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		owner, _ := res[tenantField].(string)
		if sec != nil && owner == sec.TenantID {
			out = append(out, res)
			continue
		}
		if m.ValidateAccess(sec, owner, filterResourceType) {
			out = append(out, res)
		}
	}
	return out
}

// ValidateLimits reports quota consumption for a tenant. User count is live;
// validation and storage usage remain stubbed at zero until metering exists.
func (m *Manager) ValidateLimits(tenantID string) (*LimitsReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	userCount := len(m.tenantUsers[tenantID])
	report := &LimitsReport{
		TenantID:    tenantID,
		Users:       usage(userCount, t.Quotas.MaxUsers),
		Validations: usage(0, t.Quotas.MaxValidationsPerMonth),
		StorageGB:   usage(0, t.Quotas.MaxStorageGB),
	}
	report.WithinLimits = report.Users.Within && report.Validations.Within && report.StorageGB.Within
	return report, nil
}

func usage(current, limit int) UsageMetric {
	return UsageMetric{Current: current, Limit: limit, Within: limit <= 0 || current <= limit}
}
