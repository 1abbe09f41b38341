package rbac

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType enumerates the protected resource categories.
type ResourceType string

const (
	ResourceValidationRequest ResourceType = "VALIDATION_REQUEST"
	ResourceFinancialData     ResourceType = "FINANCIAL_DATA"
	ResourceComplianceReport  ResourceType = "COMPLIANCE_REPORT"
	ResourceAuditLog          ResourceType = "AUDIT_LOG"
	ResourceUser              ResourceType = "USER"
	ResourceRole              ResourceType = "ROLE"
	ResourceTenant            ResourceType = "TENANT"
)

// ResourceTypes lists every resource category in catalog order.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceValidationRequest,
		ResourceFinancialData,
		ResourceComplianceReport,
		ResourceAuditLog,
		ResourceUser,
		ResourceRole,
		ResourceTenant,
	}
}

// PermissionType enumerates the actions a permission grants.
type PermissionType string

const (
	PermRead    PermissionType = "READ"
	PermWrite   PermissionType = "WRITE"
	PermDelete  PermissionType = "DELETE"
	PermExecute PermissionType = "EXECUTE"
	// PermAdmin is a wildcard: it satisfies any permission check for its
	// resource type.
	PermAdmin PermissionType = "ADMIN"
)

// PermissionTypes lists every permission action in catalog order.
func PermissionTypes() []PermissionType {
	return []PermissionType{PermRead, PermWrite, PermDelete, PermExecute, PermAdmin}
}

// Permission is an atomic capability on one resource type. Identity is the
// (Resource, Action) pair; ID is a stable derived key.
type Permission struct {
	ID       string
	Resource ResourceType
	Action   PermissionType
}

// PermissionID derives the stable identifier for a (resource, action) pair.
func PermissionID(rt ResourceType, pt PermissionType) string {
	return fmt.Sprintf("perm_%s_%s", strings.ToLower(string(rt)), strings.ToLower(string(pt)))
}

// RoleType distinguishes bootstrapped roles from operator-created ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "SYSTEM"
	RoleTypeCustom RoleType = "CUSTOM"
)

// Well-known system role identifiers.
const (
	RoleAdmin             = "admin"
	RoleAnalyst           = "analyst"
	RoleComplianceOfficer = "compliance_officer"
	RoleAPIUser           = "api_user"
	RoleViewer            = "viewer"
)

// Role groups permissions under a name. Inactive roles contribute nothing to
// permission resolution.
type Role struct {
	ID          string
	Name        string
	Description string
	Type        RoleType
	Permissions map[string]Permission
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPermission reports whether the role directly grants the requested
// action, honouring the ADMIN wildcard for the resource type.
func (r *Role) HasPermission(rt ResourceType, pt PermissionType) bool {
	if r == nil || !r.IsActive {
		return false
	}
	for _, p := range r.Permissions {
		if p.Resource != rt {
			continue
		}
		if p.Action == pt || p.Action == PermAdmin {
			return true
		}
	}
	return false
}

// PrincipalStatus captures the lifecycle state of a principal.
type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
)

// Principal is an authenticated actor as supplied by the identity provider.
// Principals are created externally; only role membership mutates here.
type Principal struct {
	ID       string
	TenantID string
	RoleIDs  []string
	Status   PrincipalStatus
}

// Catalog holds the fixed permission set: the cross product of resource and
// permission types. It is built once and never mutated afterwards.
type Catalog struct {
	byID map[string]Permission
	all  []Permission
}

// NewCatalog generates the full permission catalog.
func NewCatalog() *Catalog {
	c := &Catalog{byID: make(map[string]Permission)}
	for _, rt := range ResourceTypes() {
		for _, pt := range PermissionTypes() {
			p := Permission{ID: PermissionID(rt, pt), Resource: rt, Action: pt}
			c.byID[p.ID] = p
			c.all = append(c.all, p)
		}
	}
	return c
}

// Get returns the permission for id, if known.
func (c *Catalog) Get(id string) (Permission, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// All returns every catalogued permission.
func (c *Catalog) All() []Permission {
	out := make([]Permission, len(c.all))
	copy(out, c.all)
	return out
}
