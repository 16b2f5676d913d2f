package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RoleGraph is the flat, already-fetched data the resolution algorithm
// runs over: assignments for one user, the roles they point at, and the
// grants of those roles. No back-references, no lazy loading.
type RoleGraph struct {
	Assignments []UserRole
	Roles       map[string]Role
	Grants      map[string][]RolePermission
	Permissions map[string]Permission
}

// ResolvePermissions computes the effective permission set from a role
// graph. Only active assignments, active roles, active grants and active
// permissions contribute. An assignment past its expiry is treated as
// inactive. The result is deduplicated by permission id and ordered by
// (resource, action) so API output stays stable.
func ResolvePermissions(g RoleGraph, now time.Time) []Permission {
	seen := make(map[string]struct{})
	var out []Permission
	for _, a := range g.Assignments {
		if !a.IsActive {
			continue
		}
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			continue
		}
		role, ok := g.Roles[a.RoleID]
		if !ok || !role.IsActive {
			continue
		}
		for _, grant := range g.Grants[role.ID] {
			if !grant.IsActive {
				continue
			}
			perm, ok := g.Permissions[grant.PermissionID]
			if !ok || !perm.IsActive {
				continue
			}
			if _, dup := seen[perm.ID]; dup {
				continue
			}
			seen[perm.ID] = struct{}{}
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// ResolveRoles returns the user's active roles from a role graph, ordered
// by name.
func ResolveRoles(g RoleGraph, now time.Time) []Role {
	var out []Role
	seen := make(map[string]struct{})
	for _, a := range g.Assignments {
		if !a.IsActive {
			continue
		}
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			continue
		}
		role, ok := g.Roles[a.RoleID]
		if !ok || !role.IsActive {
			continue
		}
		if _, dup := seen[role.ID]; dup {
			continue
		}
		seen[role.ID] = struct{}{}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolver loads a user's role graph from the stores and resolves it.
type Resolver struct {
	roles RoleStore
	perms PermissionStore
	now   func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(roles RoleStore, perms PermissionStore) *Resolver {
	return &Resolver{roles: roles, perms: perms, now: time.Now}
}

// WithClock overrides the resolver time source (test use).
func (r *Resolver) WithClock(fn func() time.Time) *Resolver {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Load fetches the flat role graph for one user. A user with no rows, or a
// user that does not exist, yields an empty graph: permission checks on a
// missing user must deny, not fail.
func (r *Resolver) Load(ctx context.Context, userID string) (RoleGraph, error) {
	g := RoleGraph{
		Roles:       make(map[string]Role),
		Grants:      make(map[string][]RolePermission),
		Permissions: make(map[string]Permission),
	}
	assignments, err := r.roles.AssignmentsForUser(ctx, userID)
	if err != nil {
		return RoleGraph{}, fmt.Errorf("load assignments: %w", err)
	}
	g.Assignments = assignments
	for _, a := range assignments {
		if _, ok := g.Roles[a.RoleID]; ok {
			continue
		}
		role, err := r.roles.Find(ctx, a.RoleID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return RoleGraph{}, fmt.Errorf("load role %s: %w", a.RoleID, err)
		}
		g.Roles[role.ID] = *role
		grants, err := r.perms.GrantsForRole(ctx, role.ID)
		if err != nil {
			return RoleGraph{}, fmt.Errorf("load grants for role %s: %w", role.ID, err)
		}
		g.Grants[role.ID] = grants
		for _, grant := range grants {
			if _, ok := g.Permissions[grant.PermissionID]; ok {
				continue
			}
			perm, err := r.perms.Find(ctx, grant.PermissionID)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return RoleGraph{}, fmt.Errorf("load permission %s: %w", grant.PermissionID, err)
			}
			g.Permissions[perm.ID] = *perm
		}
	}
	return g, nil
}

// Resolve returns the user's effective permissions and active roles.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]Permission, []Role, error) {
	g, err := r.Load(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	now := r.now().UTC()
	return ResolvePermissions(g, now), ResolveRoles(g, now), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
