package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// TokenMinter is the slice of TokenIssuer the lifecycle needs: a source of
// opaque refresh token values.
type TokenMinter interface {
	NewRefreshToken() (string, error)
}

// IDGenerator supplies row identifiers.
type IDGenerator func() string

// Lifecycle is the refresh-token state machine. Tokens move from Active to
// Revoked (logout or rotation) or Expired (lazily, by clock); both are
// terminal. Rotation additionally links the old row to its successor.
type Lifecycle struct {
	tokens     RefreshTokenStore
	minter     TokenMinter
	newID      IDGenerator
	refreshTTL time.Duration
	now        func() time.Time
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithRefreshTTL overrides the refresh token validity window.
func WithRefreshTTL(ttl time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if ttl > 0 {
			l.refreshTTL = ttl
		}
	}
}

// WithLifecycleClock overrides the time source (test use).
func WithLifecycleClock(fn func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLifecycle constructs the state machine over a token store.
func NewLifecycle(tokens RefreshTokenStore, minter TokenMinter, newID IDGenerator, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		tokens:     tokens,
		minter:     minter,
		newID:      newID,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RefreshTTL returns the configured validity window.
func (l *Lifecycle) RefreshTTL() time.Duration { return l.refreshTTL }

// IssueParams describes the device the new token is bound to.
type IssueParams struct {
	UserID     string
	DeviceID   string
	DeviceName string
	IP         string
	UserAgent  string
}

// Issue creates a fresh Active token bound to (user, device).
func (l *Lifecycle) Issue(ctx context.Context, p IssueParams) (*RefreshToken, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	if p.UserID == "" || p.DeviceID == "" {
		return nil, fmt.Errorf("%w: user id and device id are required", ErrInvalidInput)
	}
	value, err := l.minter.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("%w: mint refresh token: %v", ErrInternal, err)
	}
	now := l.now().UTC()
	tok := &RefreshToken{
		ID:          l.newID(),
		UserID:      p.UserID,
		Token:       value,
		DeviceID:    p.DeviceID,
		DeviceName:  p.DeviceName,
		CreatedAt:   now,
		CreatedByIP: p.IP,
		UserAgent:   p.UserAgent,
		ExpiresAt:   now.Add(l.refreshTTL),
	}
	if err := l.tokens.Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	return tok, nil
}

// RotateParams carries a presented token and the request's device claim.
type RotateParams struct {
	Token    string
	DeviceID string
	IP       string
}

// Rotate exchanges a presented token for a fresh one. The presented token
// must resolve to an Active row whose device matches the request; anything
// else is an invalid credential, never a not-found. The revoke is a
// conditional write, so two concurrent rotations of the same token yield
// exactly one winner. The losing presentation, and any later replay of the
// old token, is rejected. A device mismatch leaves the presented token
// untouched.
func (l *Lifecycle) Rotate(ctx context.Context, p RotateParams) (*RefreshToken, error) {
	p.Token = strings.TrimSpace(p.Token)
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	if p.Token == "" || p.DeviceID == "" {
		return nil, ErrUnauthorized
	}
	current, err := l.tokens.FindByToken(ctx, p.Token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: load refresh token: %v", ErrInternal, err)
	}
	now := l.now().UTC()
	if !current.ActiveAt(now) || current.DeviceID != p.DeviceID {
		return nil, ErrUnauthorized
	}

	// Mint the successor value first so the old row can point at it the
	// moment it is revoked.
	value, err := l.minter.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("%w: mint refresh token: %v", ErrInternal, err)
	}
	revoked, err := l.tokens.Revoke(ctx, p.Token, RevocationStamp{
		At:         now,
		IP:         p.IP,
		ReplacedBy: value,
		MarkUsed:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: revoke rotated token: %v", ErrInternal, err)
	}
	if !revoked {
		// Lost the race against a concurrent rotation of the same token.
		return nil, ErrUnauthorized
	}

	next := &RefreshToken{
		ID:          l.newID(),
		UserID:      current.UserID,
		Token:       value,
		DeviceID:    current.DeviceID,
		DeviceName:  current.DeviceName,
		CreatedAt:   now,
		CreatedByIP: p.IP,
		UserAgent:   current.UserAgent,
		ExpiresAt:   now.Add(l.refreshTTL),
	}
	if err := l.tokens.Create(ctx, next); err != nil {
		// The old token is already revoked; the caller falls back to a full
		// re-login rather than being left with a half-rotated state.
		return nil, fmt.Errorf("%w: reissue after rotation: %v", ErrInternal, err)
	}
	return next, nil
}

// Revoke stamps a single token revoked. Unknown or already-revoked tokens
// are a no-op so logout stays idempotent.
func (l *Lifecycle) Revoke(ctx context.Context, token, ip string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	_, err := l.tokens.Revoke(ctx, token, RevocationStamp{At: l.now().UTC(), IP: ip})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAllForUser stamps every currently-active token of the user.
func (l *Lifecycle) RevokeAllForUser(ctx context.Context, userID, ip string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	n, err := l.tokens.RevokeAllForUser(ctx, userID, RevocationStamp{At: l.now().UTC(), IP: ip})
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens: %w", err)
	}
	return n, nil
}

// RevokeByDevice stamps every active token for (user, device), making room
// for a fresh single-session token on that device. Tokens on other devices
// are untouched.
func (l *Lifecycle) RevokeByDevice(ctx context.Context, userID, deviceID, ip string) (int, error) {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return 0, fmt.Errorf("%w: user id and device id are required", ErrInvalidInput)
	}
	n, err := l.tokens.RevokeByDevice(ctx, userID, deviceID, RevocationStamp{At: l.now().UTC(), IP: ip})
	if err != nil {
		return 0, fmt.Errorf("revoke device tokens: %w", err)
	}
	return n, nil
}

// CleanupExpired hard-deletes every row past expiry, revoked or not. This
// is the maintenance sweep and the only hard-delete path for tokens.
func (l *Lifecycle) CleanupExpired(ctx context.Context) (int, error) {
	n, err := l.tokens.DeleteExpired(ctx, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	return n, nil
}
