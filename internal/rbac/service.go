package rbac

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service owns the role registry and resolves access decisions. All state is
// process-wide and guarded by a read-write mutex so concurrent request
// handlers observe consistent role and membership data.
type Service struct {
	mu         sync.RWMutex
	catalog    *Catalog
	roles      map[string]*Role
	hierarchy  map[string][]string
	principals map[string]*Principal
	transitive bool
	logger     *slog.Logger
}

// Options tunes service behaviour.
type Options struct {
	// TransitiveInheritance resolves the role hierarchy to its transitive
	// closure instead of the default single hop.
	TransitiveInheritance bool
}

// NewService constructs the service, bootstrapping the permission catalog,
// the system roles and the role hierarchy.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		catalog:    NewCatalog(),
		roles:      make(map[string]*Role),
		hierarchy:  make(map[string][]string),
		principals: make(map[string]*Principal),
		transitive: opts.TransitiveInheritance,
		logger:     logger,
	}
	s.bootstrapRoles()
	return s
}

// Catalog exposes the fixed permission catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) bootstrapRoles() {
	now := time.Now().UTC()
	add := func(id, name, description string, perms []Permission) {
		set := make(map[string]Permission, len(perms))
		for _, p := range perms {
			set[p.ID] = p
		}
		s.roles[id] = &Role{
			ID:          id,
			Name:        name,
			Description: description,
			Type:        RoleTypeSystem,
			Permissions: set,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	var adminPerms []Permission
	for _, rt := range ResourceTypes() {
		adminPerms = append(adminPerms, s.mustPerm(rt, PermAdmin))
	}
	add(RoleAdmin, "Administrator", "Full administrative access across all resources", adminPerms)

	add(RoleAnalyst, "Analyst", "Creates and reviews validation work", []Permission{
		s.mustPerm(ResourceValidationRequest, PermRead),
		s.mustPerm(ResourceValidationRequest, PermWrite),
		s.mustPerm(ResourceValidationRequest, PermExecute),
		s.mustPerm(ResourceFinancialData, PermRead),
		s.mustPerm(ResourceFinancialData, PermWrite),
		s.mustPerm(ResourceComplianceReport, PermRead),
	})

	add(RoleComplianceOfficer, "Compliance Officer", "Reviews compliance posture and audit history", []Permission{
		s.mustPerm(ResourceComplianceReport, PermRead),
		s.mustPerm(ResourceComplianceReport, PermWrite),
		s.mustPerm(ResourceAuditLog, PermRead),
		s.mustPerm(ResourceFinancialData, PermRead),
	})

	add(RoleAPIUser, "API User", "Programmatic validation access", []Permission{
		s.mustPerm(ResourceValidationRequest, PermRead),
		s.mustPerm(ResourceValidationRequest, PermWrite),
		s.mustPerm(ResourceValidationRequest, PermExecute),
	})

	add(RoleViewer, "Viewer", "Read-only access", []Permission{
		s.mustPerm(ResourceValidationRequest, PermRead),
		s.mustPerm(ResourceComplianceReport, PermRead),
	})

	// Single-hop inheritance table. Lookups follow exactly one hop unless
	// transitive resolution is enabled.
	s.hierarchy[RoleAdmin] = []string{RoleAnalyst, RoleAPIUser, RoleViewer}
	s.hierarchy[RoleAnalyst] = []string{RoleViewer}
}

func (s *Service) mustPerm(rt ResourceType, pt PermissionType) Permission {
	p, ok := s.catalog.Get(PermissionID(rt, pt))
	if !ok {
		panic("rbac: catalog missing " + PermissionID(rt, pt))
	}
	return p
}

// snapshotRole copies a role so callers can read it after the lock is
// released.
func snapshotRole(r *Role) *Role {
	out := *r
	out.Permissions = make(map[string]Permission, len(r.Permissions))
	for id, p := range r.Permissions {
		out.Permissions[id] = p
	}
	return &out
}

// snapshotPrincipal copies a principal, including its role list.
func snapshotPrincipal(p *Principal) *Principal {
	out := *p
	out.RoleIDs = append([]string(nil), p.RoleIDs...)
	return &out
}

// CheckPermission reports whether the principal's active roles grant the
// requested action, directly or through role inheritance. Absence of
// evidence is deny; the method never fails.
func (s *Service) CheckPermission(p *Principal, rt ResourceType, pt PermissionType) bool {
	if p == nil || p.Status != PrincipalActive {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, roleID := range p.RoleIDs {
		role, ok := s.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		if role.HasPermission(rt, pt) {
			return true
		}
		for _, inheritedID := range s.inheritedLocked(roleID) {
			if inherited, ok := s.roles[inheritedID]; ok && inherited.HasPermission(rt, pt) {
				return true
			}
		}
	}
	return false
}

// inheritedLocked returns the role ids reachable from roleID through the
// hierarchy: one hop by default, the full closure when transitive resolution
// is configured. Callers must hold at least a read lock.
func (s *Service) inheritedLocked(roleID string) []string {
	direct := s.hierarchy[roleID]
	if !s.transitive {
		return direct
	}
	seen := map[string]struct{}{roleID: {}}
	var out []string
	queue := append([]string(nil), direct...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		queue = append(queue, s.hierarchy[id]...)
	}
	return out
}

// UserPermissions returns the deduplicated union of direct and inherited
// permissions across the principal's active roles.
func (s *Service) UserPermissions(p *Principal) []Permission {
	if p == nil || p.Status != PrincipalActive {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]Permission)
	collect := func(roleID string) {
		role, ok := s.roles[roleID]
		if !ok || !role.IsActive {
			return
		}
		for id, perm := range role.Permissions {
			merged[id] = perm
		}
	}
	for _, roleID := range p.RoleIDs {
		role, ok := s.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		collect(roleID)
		for _, inheritedID := range s.inheritedLocked(roleID) {
			collect(inheritedID)
		}
	}
	out := make([]Permission, 0, len(merged))
	for _, perm := range merged {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateCustomRole registers a new custom role. Unknown permission ids are
// skipped with a warning rather than failing the whole call.
func (s *Service) CreateCustomRole(id, name, description string, permissionIDs []string) (*Role, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, errors.New("rbac: role id and name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[id]; exists {
		return nil, errors.New("rbac: role already exists")
	}
	perms := make(map[string]Permission)
	for _, pid := range permissionIDs {
		p, ok := s.catalog.Get(pid)
		if !ok {
			s.logger.Warn("skipping unknown permission id", slog.String("role", id), slog.String("permission", pid))
			continue
		}
		perms[p.ID] = p
	}
	now := time.Now().UTC()
	role := &Role{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(description),
		Type:        RoleTypeCustom,
		Permissions: perms,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.roles[id] = role
	return snapshotRole(role), nil
}

// GetRole fetches a role by id.
func (s *Service) GetRole(id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshotRole(role), nil
}

// ListRoles returns copies of all registered roles ordered by id.
func (s *Service) ListRoles() []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, snapshotRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateRolePermissions replaces the permission set of a role. Unknown
// permission ids are skipped with a warning.
func (s *Service) UpdateRolePermissions(roleID string, permissionIDs []string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	perms := make(map[string]Permission)
	for _, pid := range permissionIDs {
		p, ok := s.catalog.Get(pid)
		if !ok {
			s.logger.Warn("skipping unknown permission id", slog.String("role", roleID), slog.String("permission", pid))
			continue
		}
		perms[p.ID] = p
	}
	role.Permissions = perms
	role.UpdatedAt = time.Now().UTC()
	return snapshotRole(role), nil
}

// UpsertPrincipal registers or refreshes a principal supplied by the
// identity provider.
func (s *Service) UpsertPrincipal(p Principal) *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = PrincipalActive
	}
	stored := p
	s.principals[p.ID] = &stored
	return snapshotPrincipal(&stored)
}

// GetPrincipal fetches a copy of a principal by id.
func (s *Service) GetPrincipal(id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshotPrincipal(p), nil
}

// AssignRole grants roleID to the principal. Re-assigning an already held
// role is a successful no-op.
func (s *Service) AssignRole(userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, existing := range p.RoleIDs {
		if existing == roleID {
			return nil
		}
	}
	p.RoleIDs = append(p.RoleIDs, roleID)
	return nil
}

// RemoveRole revokes roleID from the principal. Removing a role the
// principal does not hold is a no-op with a warning.
func (s *Service) RemoveRole(userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[userID]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range p.RoleIDs {
		if existing == roleID {
			p.RoleIDs = append(p.RoleIDs[:i], p.RoleIDs[i+1:]...)
			return nil
		}
	}
	s.logger.Warn("role not assigned to user", slog.String("user", userID), slog.String("role", roleID))
	return nil
}
