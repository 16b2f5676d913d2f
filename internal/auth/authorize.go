package auth

import "strings"

// PermissionSet is a resolved permission collection indexed for the two
// lookups the deciders need: by name and by (resource, action). Keys are
// lower-cased once at construction; decision calls fold their input, the
// stored data is already canonical.
type PermissionSet struct {
	byName   map[string]Permission
	byTarget map[string]Permission
	ordered  []Permission
}

// NewPermissionSet indexes resolved permissions. Inactive permissions are
// excluded so a deactivated capability can never satisfy a check.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := PermissionSet{
		byName:   make(map[string]Permission, len(perms)),
		byTarget: make(map[string]Permission, len(perms)),
	}
	for _, p := range perms {
		if !p.IsActive {
			continue
		}
		name := strings.ToLower(p.Name)
		target := strings.ToLower(p.Resource) + "\x00" + strings.ToLower(p.Action)
		if _, dup := set.byName[name]; dup {
			continue
		}
		set.byName[name] = p
		set.byTarget[target] = p
		set.ordered = append(set.ordered, p)
	}
	return set
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int { return len(s.ordered) }

// Names returns the permission names in resolution order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.ordered))
	for _, p := range s.ordered {
		out = append(out, p.Name)
	}
	return out
}

// Permissions returns the underlying permissions in resolution order.
func (s PermissionSet) Permissions() []Permission {
	out := make([]Permission, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// HasPermission reports whether the set contains a permission for the
// (resource, action) pair. Matching is case-insensitive and exact.
func (s PermissionSet) HasPermission(resource, action string) bool {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return false
	}
	_, ok := s.byTarget[resource+"\x00"+action]
	return ok
}

// HasName reports whether the set contains a permission with the given
// name.
func (s PermissionSet) HasName(name string) bool {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return false
	}
	_, ok := s.byName[name]
	return ok
}

// HasAny is true when at least one of the requested names is present. An
// empty requirement list never matches: authorization is deny-by-default.
func (s PermissionSet) HasAny(names []string) bool {
	for _, n := range names {
		if s.HasName(n) {
			return true
		}
	}
	return false
}

// HasAll is true only when every requested name is present. An empty
// requirement list never matches.
func (s PermissionSet) HasAll(names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if !s.HasName(n) {
			return false
		}
	}
	return true
}

// HasRole reports a case-insensitive name match against active roles.
func HasRole(roles []Role, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, r := range roles {
		if r.IsActive && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

// Requirement is a data-only gate declaration attached to a protected
// operation. The zero value denies everyone authenticated-or-not except via
// the explicit Anonymous escape hatch; handlers declare what they need and
// Evaluate produces the verdict.
type Requirement struct {
	// Anonymous short-circuits the gate with an allow verdict.
	Anonymous bool
	// Permission names a single required permission.
	Permission string
	// Role names a required role membership.
	Role string
	// AnyOf passes when at least one named permission is held.
	AnyOf []string
	// AllOf passes only when every named permission is held.
	AllOf []string
	// AuthenticatedOnly requires a principal but no specific capability.
	AuthenticatedOnly bool
}

// Evaluate decides the requirement against a resolved principal. A nil
// principal means the request is unauthenticated: everything but Anonymous
// requirements fails with ErrUnauthorized. Authenticated principals
// lacking a capability get ErrForbidden; the two cases must stay distinct.
// Every declared clause must hold, so setting Permission and Role together
// forms the combined permission-and-role gate. A requirement declaring
// nothing denies everyone.
func (req Requirement) Evaluate(p *Principal) error {
	if req.Anonymous {
		return nil
	}
	if p == nil {
		return ErrUnauthorized
	}
	if req.AuthenticatedOnly {
		return nil
	}
	if req.Permission == "" && req.Role == "" && len(req.AnyOf) == 0 && len(req.AllOf) == 0 {
		return ErrForbidden
	}
	if req.Permission != "" && !p.Permissions.HasName(req.Permission) {
		return ErrForbidden
	}
	if req.Role != "" && !HasRole(p.Roles, req.Role) {
		return ErrForbidden
	}
	if len(req.AnyOf) > 0 && !p.Permissions.HasAny(req.AnyOf) {
		return ErrForbidden
	}
	if len(req.AllOf) > 0 && !p.Permissions.HasAll(req.AllOf) {
		return ErrForbidden
	}
	return nil
}

// OperationPermissions maps an administrative operation on an entity to the
// permission names that satisfy it: the specific "<entity>.<op>" plus the
// blanket "<entity>.manage".
func OperationPermissions(entity, op string) []string {
	entity = strings.TrimSpace(strings.ToLower(entity))
	op = strings.TrimSpace(strings.ToLower(op))
	if entity == "" || op == "" {
		return nil
	}
	return []string{entity + "." + op, entity + "." + OpManage}
}
