package auth

import (
	"context"
	"strings"
)

// Principal is an authenticated caller with resolved roles and permissions.
type Principal struct {
	User        *User
	Roles       []Role
	Permissions PermissionSet
}

// NewPrincipal builds a principal from resolved data.
func NewPrincipal(user *User, roles []Role, perms []Permission) *Principal {
	return &Principal{User: user, Roles: roles, Permissions: NewPermissionSet(perms)}
}

// RoleNames returns the principal's active role names.
func (p *Principal) RoleNames() []string {
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		if r.IsActive {
			out = append(out, r.Name)
		}
	}
	return out
}

type principalContextKey struct{}
type tokenContextKey struct{}
type userIDContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, principalContextKey{}, principal)
	if principal.User != nil {
		ctx = context.WithValue(ctx, userIDContextKey{}, principal.User.ID)
	}
	return ctx
}

// PrincipalFromContext extracts the authenticated principal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ContextWithUserID stores just the caller's user id (audit paths that do
// not need the full principal).
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userIDContextKey{}).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PrincipalFromClaims rebuilds a principal from the roles and permissions
// embedded in a validated access token. The token is self-contained, so no
// store lookup happens here; revocation takes effect on the next refresh.
func PrincipalFromClaims(c *Claims) *Principal {
	if c == nil {
		return nil
	}
	roles := make([]Role, 0, len(c.Roles))
	for _, name := range c.Roles {
		roles = append(roles, Role{Name: name, IsActive: true})
	}
	perms := make([]Permission, 0, len(c.Permissions))
	for _, name := range c.Permissions {
		resource, action := splitPermissionName(name)
		perms = append(perms, Permission{
			Name:     name,
			Resource: resource,
			Action:   action,
			IsActive: true,
		})
	}
	user := &User{ID: c.Subject, Email: c.Email, IsActive: true}
	return NewPrincipal(user, roles, perms)
}

func splitPermissionName(name string) (resource, action string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
