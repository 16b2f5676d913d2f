package auth

import "time"

// User is an account identity. Phone is stored in canonical international
// form; an empty phone means none is on file.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	PhoneVerified bool       `json:"phone_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Role is a named policy bucket permissions are granted to.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is an atomic capability identified by a (resource, action)
// pair. Resource and action are lower-cased on insert so authorization
// checks never case-fold on the hot path. Name is the human handle, e.g.
// "users.read".
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole assigns a role to a user. Rows are soft-deactivated on
// unassignment, never deleted.
type UserRole struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// RolePermission grants a permission to a role.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	GrantedAt    time.Time `json:"granted_at"`
	IsActive     bool      `json:"is_active"`
}

// RefreshToken is an opaque credential bound to one user and one device.
// A token is active iff RevokedAt is nil and ExpiresAt is in the future.
// ReplacedByToken links to the successor issued during rotation.
type RefreshToken struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Token           string     `json:"-"`
	DeviceID        string     `json:"device_id"`
	DeviceName      string     `json:"device_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedByIP     string     `json:"created_by_ip,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedByIP     string     `json:"revoked_by_ip,omitempty"`
	ReplacedByToken string     `json:"replaced_by_token,omitempty"`
}

// ActiveAt reports whether the token can still be presented at the given
// instant.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// IdentitySnapshot is the denormalized view of a user plus resolved roles
// and permission names. It is what login returns and what the cache holds.
type IdentitySnapshot struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// TokenPair is what a successful login, register or refresh hands back.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
