package auth

import (
	"context"
	"time"
)

// ListParams controls paged queries. Limit <= 0 means the store default.
type ListParams struct {
	Offset     int
	Limit      int
	Search     string
	ActiveOnly bool
	SortBy     string
	SortDesc   bool
}

// RevocationStamp carries the metadata written onto a token when it is
// revoked. ReplacedBy is set only during rotation.
type RevocationStamp struct {
	At         time.Time
	IP         string
	ReplacedBy string
	MarkUsed   bool
}

// Store bundles the persistence contracts required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages user rows.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
	// FindByEmailOrPhone resolves a login identifier that may be either.
	FindByEmailOrPhone(ctx context.Context, login string) (*User, error)
	List(ctx context.Context, p ListParams) ([]*User, int, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	EmailExists(ctx context.Context, email, excludeID string) (bool, error)
	PhoneExists(ctx context.Context, phone, excludeID string) (bool, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
	// SetActive flips the active flag and touches updated_at. The returned
	// bool reports whether a row existed; bulk status flips skip missing ids.
	SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, p ListParams) ([]*Role, int, error)
	Update(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id string) error
	NameExists(ctx context.Context, name, excludeID string) (bool, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)

	// Assign records a user-role assignment. At most one active assignment
	// may exist per (user, role); assigning an already-assigned role is a
	// no-op.
	Assign(ctx context.Context, ur UserRole) error
	// Unassign soft-deactivates the assignment, preserving the audit trail.
	Unassign(ctx context.Context, userID, roleID string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]UserRole, error)
	// ActiveAssignmentCount backs the role delete guard.
	ActiveAssignmentCount(ctx context.Context, roleID string) (int, error)
}

// PermissionStore manages the permission catalog and role grants.
type PermissionStore interface {
	Create(ctx context.Context, p *Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	FindByResourceAction(ctx context.Context, resource, action string) (*Permission, error)
	List(ctx context.Context, p ListParams) ([]*Permission, int, error)
	Update(ctx context.Context, p *Permission) error
	Delete(ctx context.Context, id string) error
	NameExists(ctx context.Context, name, excludeID string) (bool, error)
	ResourceActionExists(ctx context.Context, resource, action, excludeID string) (bool, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)
	// Ensure installs catalog entries that do not exist yet (seed path).
	Ensure(ctx context.Context, perms []Permission) error

	Grant(ctx context.Context, rp RolePermission) error
	// RevokeGrant soft-deactivates the grant.
	RevokeGrant(ctx context.Context, roleID, permissionID string) error
	GrantsForRole(ctx context.Context, roleID string) ([]RolePermission, error)
	// ActiveGrantCount backs the permission delete guard.
	ActiveGrantCount(ctx context.Context, permissionID string) (int, error)
}

// RefreshTokenStore manages refresh token lifecycle rows.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error)
	Update(ctx context.Context, t *RefreshToken) error
	Delete(ctx context.Context, id string) error

	// Revoke stamps the token revoked only if it is not already revoked
	// (conditional write). It returns false when no active row matched, which
	// is how concurrent rotations of the same token lose the race.
	Revoke(ctx context.Context, token string, stamp RevocationStamp) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, stamp RevocationStamp) (int, error)
	RevokeByDevice(ctx context.Context, userID, deviceID string, stamp RevocationStamp) (int, error)
	// DeleteExpired hard-deletes rows past expiry regardless of revocation
	// state. This is the only hard-delete path for tokens.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Cache is a read-through, write-invalidate cache for serializable values.
// It is never the source of truth.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, key string) (bool, error)
}
