package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSnapshotTTL = 5 * time.Minute
	snapshotKeyPrefix  = "identity:"
)

// SnapshotKey is the cache key holding a user's identity snapshot.
func SnapshotKey(userID string) string { return snapshotKeyPrefix + userID }

// Service orchestrates credential verification, token issuance and session
// lifecycle on top of the stores, the resolver, the hasher and the issuer.
type Service struct {
	users       UserStore
	roles       RoleStore
	resolver    *Resolver
	lifecycle   *Lifecycle
	hasher      PasswordHasher
	issuer      *TokenIssuer
	cache       Cache
	newID       IDGenerator
	snapshotTTL time.Duration
	phoneRegion string
	now         func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithSnapshotTTL overrides the identity snapshot cache TTL.
func WithSnapshotTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.snapshotTTL = ttl
		}
	}
}

// WithPhoneRegion overrides the default country code applied to
// national-format phone numbers.
func WithPhoneRegion(region string) ServiceOption {
	return func(s *Service) {
		if strings.TrimSpace(region) != "" {
			s.phoneRegion = strings.TrimSpace(region)
		}
	}
}

// WithServiceClock overrides the time source (test use).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the orchestration layer.
func NewService(users UserStore, roles RoleStore, resolver *Resolver, lifecycle *Lifecycle,
	hasher PasswordHasher, issuer *TokenIssuer, cache Cache, newID IDGenerator, opts ...ServiceOption) *Service {
	s := &Service{
		users:       users,
		roles:       roles,
		resolver:    resolver,
		lifecycle:   lifecycle,
		hasher:      hasher,
		issuer:      issuer,
		cache:       cache,
		newID:       newID,
		snapshotTTL: defaultSnapshotTTL,
		phoneRegion: DefaultPhoneRegion,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lifecycle exposes the underlying token state machine (maintenance sweep,
// admin revocations).
func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

// LoginParams are the credentials and device context of a login attempt.
type LoginParams struct {
	Login      string // email or phone
	Password   string
	DeviceID   string
	DeviceName string
	RememberMe bool
	IP         string
	UserAgent  string
}

// AuthResult is returned by Login, Register and Refresh.
type AuthResult struct {
	Tokens   TokenPair
	Identity IdentitySnapshot
}

// Login verifies credentials and issues a token pair. Unknown user, wrong
// password and deactivated account all collapse into ErrUnauthorized.
// Without rememberMe the device keeps a single active session: previous
// tokens for the same (user, device) are revoked before the new one is
// issued.
func (s *Service) Login(ctx context.Context, p LoginParams) (*AuthResult, error) {
	fe := FieldErrors{}
	p.Login = strings.TrimSpace(p.Login)
	if p.Login == "" {
		fe.Add("login", "email or phone is required")
	}
	if p.Password == "" {
		fe.Add("password", "password is required")
	}
	if strings.TrimSpace(p.DeviceID) == "" {
		fe.Add("device_id", "device id is required")
	}
	if !fe.Empty() {
		return nil, fe
	}

	user, err := s.users.FindByEmailOrPhone(ctx, normalizeLogin(p.Login, s.phoneRegion))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: lookup user: %v", ErrInternal, err)
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	if !s.hasher.Verify(user.PasswordHash, p.Password) {
		return nil, ErrUnauthorized
	}

	now := s.now().UTC()
	if err := s.users.SetLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("%w: touch last login: %v", ErrInternal, err)
	}

	if !p.RememberMe {
		if _, err := s.lifecycle.RevokeByDevice(ctx, user.ID, p.DeviceID, p.IP); err != nil {
			return nil, fmt.Errorf("%w: single-session revoke: %v", ErrInternal, err)
		}
	}

	result, err := s.issueFor(ctx, user, IssueParams{
		UserID:     user.ID,
		DeviceID:   strings.TrimSpace(p.DeviceID),
		DeviceName: p.DeviceName,
		IP:         p.IP,
		UserAgent:  p.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, result.Identity)
	return result, nil
}

// RegisterParams describe a new account.
type RegisterParams struct {
	Email      string
	Phone      string
	Password   string
	FirstName  string
	LastName   string
	DeviceID   string
	DeviceName string
	IP         string
	UserAgent  string
}

// Register creates an account, assigns the default role and issues tokens
// the same way login does. Duplicate email or phone is a Conflict.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*AuthResult, error) {
	fe := FieldErrors{}
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		fe.Add("email", "valid email is required")
	}
	if len(p.Password) < 8 {
		fe.Add("password", "password must be at least 8 characters")
	}
	if strings.TrimSpace(p.DeviceID) == "" {
		fe.Add("device_id", "device id is required")
	}
	phone, err := NormalizePhone(p.Phone, s.phoneRegion)
	if err != nil {
		fe.Add("phone", "phone must be a valid international number")
	}
	if !fe.Empty() {
		return nil, fe
	}

	if exists, err := s.users.EmailExists(ctx, email, ""); err != nil {
		return nil, fmt.Errorf("%w: email uniqueness probe: %v", ErrInternal, err)
	} else if exists {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if phone != "" {
		if exists, err := s.users.PhoneExists(ctx, phone, ""); err != nil {
			return nil, fmt.Errorf("%w: phone uniqueness probe: %v", ErrInternal, err)
		} else if exists {
			return nil, fmt.Errorf("%w: phone already registered", ErrConflict)
		}
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	now := s.now().UTC()
	user := &User{
		ID:           s.newID(),
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	role, err := s.roles.FindByName(ctx, DefaultRoleName)
	if err != nil {
		return nil, fmt.Errorf("%w: default role missing: %v", ErrInternal, err)
	}
	if err := s.roles.Assign(ctx, UserRole{
		UserID:     user.ID,
		RoleID:     role.ID,
		AssignedAt: now,
		IsActive:   true,
	}); err != nil {
		return nil, fmt.Errorf("%w: assign default role: %v", ErrInternal, err)
	}

	return s.issueFor(ctx, user, IssueParams{
		UserID:     user.ID,
		DeviceID:   strings.TrimSpace(p.DeviceID),
		DeviceName: p.DeviceName,
		IP:         p.IP,
		UserAgent:  p.UserAgent,
	})
}

// Refresh rotates the presented refresh token. The owning account must
// still be active.
func (s *Service) Refresh(ctx context.Context, token, deviceID, ip string) (*AuthResult, error) {
	next, err := s.lifecycle.Rotate(ctx, RotateParams{Token: token, DeviceID: deviceID, IP: ip})
	if err != nil {
		return nil, err
	}
	user, err := s.users.Find(ctx, next.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: lookup token owner: %v", ErrInternal, err)
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	snapshot, access, accessExp, err := s.resolveSnapshot(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Tokens: TokenPair{
			AccessToken:      access,
			RefreshToken:     next.Token,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: next.ExpiresAt,
		},
		Identity: snapshot,
	}, nil
}

// Logout revokes a single refresh token. Idempotent.
func (s *Service) Logout(ctx context.Context, token, ip string) error {
	return s.lifecycle.Revoke(ctx, token, ip)
}

// LogoutAll revokes every active token of the user and drops the cached
// identity snapshot.
func (s *Service) LogoutAll(ctx context.Context, userID, ip string) (int, error) {
	n, err := s.lifecycle.RevokeAllForUser(ctx, userID, ip)
	if err != nil {
		return 0, err
	}
	s.InvalidateSnapshot(ctx, userID)
	return n, nil
}

// ValidateToken is the pure access token check: signature and expiry only,
// no store round-trip.
func (s *Service) ValidateToken(token string) bool {
	return s.issuer.ValidateToken(token)
}

// Snapshot returns the identity snapshot for a user, read through the
// cache. A cache miss resolves from the stores and repopulates the entry.
func (s *Service) Snapshot(ctx context.Context, userID string) (IdentitySnapshot, error) {
	if s.cache != nil {
		var cached IdentitySnapshot
		if hit, err := s.cache.Get(ctx, SnapshotKey(userID), &cached); err == nil && hit {
			return cached, nil
		}
	}
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return IdentitySnapshot{}, ErrNotFound
		}
		return IdentitySnapshot{}, fmt.Errorf("%w: lookup user: %v", ErrInternal, err)
	}
	snapshot, _, _, err := s.resolveSnapshot(ctx, user)
	if err != nil {
		return IdentitySnapshot{}, err
	}
	s.cacheSnapshot(ctx, snapshot)
	return snapshot, nil
}

// InvalidateSnapshot drops the cached identity. The cache is
// write-invalidate: mutations never update entries in place.
func (s *Service) InvalidateSnapshot(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, SnapshotKey(userID))
}

func (s *Service) issueFor(ctx context.Context, user *User, p IssueParams) (*AuthResult, error) {
	snapshot, access, accessExp, err := s.resolveSnapshot(ctx, user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.lifecycle.Issue(ctx, p)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Tokens: TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh.Token,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refresh.ExpiresAt,
		},
		Identity: snapshot,
	}, nil
}

func (s *Service) resolveSnapshot(ctx context.Context, user *User) (IdentitySnapshot, string, time.Time, error) {
	perms, roles, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return IdentitySnapshot{}, "", time.Time{}, fmt.Errorf("%w: resolve permissions: %v", ErrInternal, err)
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}
	permNames := make([]string, 0, len(perms))
	for _, p := range perms {
		permNames = append(permNames, p.Name)
	}
	access, exp, err := s.issuer.GenerateAccessToken(user.ID, user.Email, roleNames, permNames)
	if err != nil {
		return IdentitySnapshot{}, "", time.Time{}, fmt.Errorf("%w: sign access token: %v", ErrInternal, err)
	}
	snapshot := IdentitySnapshot{
		UserID:      user.ID,
		Email:       user.Email,
		Phone:       user.Phone,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Roles:       roleNames,
		Permissions: permNames,
		ResolvedAt:  s.now().UTC(),
	}
	return snapshot, access, exp, nil
}

func (s *Service) cacheSnapshot(ctx context.Context, snapshot IdentitySnapshot) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, SnapshotKey(snapshot.UserID), snapshot, s.snapshotTTL)
}

// normalizeLogin lower-cases emails and canonicalizes phone-shaped logins
// so lookup hits the stored form.
func normalizeLogin(login, region string) string {
	if strings.Contains(login, "@") {
		return strings.ToLower(login)
	}
	if phone, err := NormalizePhone(login, region); err == nil && phone != "" {
		return phone
	}
	return login
}
