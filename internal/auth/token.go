package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "authgrid"

// Claims are the JWT claims embedded into access tokens. Roles and
// Permissions carry the names resolved at issue time so request gates can
// decide without a database round-trip.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates access tokens and mints opaque refresh
// token values. It holds no persistent state.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(t *TokenIssuer) {
		if strings.TrimSpace(name) != "" {
			t.issuer = strings.TrimSpace(name)
		}
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (test use).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(t *TokenIssuer) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer signing with HS256.
func NewTokenIssuer(secret string, opts ...IssuerOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	t := &TokenIssuer{
		secret:    []byte(secret),
		issuer:    defaultIssuer,
		accessTTL: 15 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// GenerateAccessToken signs a JWT embedding the user identity plus resolved
// role and permission names.
func (t *TokenIssuer) GenerateAccessToken(userID, email string, roles, permissions []string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims := Claims{
		Email:       strings.TrimSpace(strings.ToLower(email)),
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (t *TokenIssuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken is the pure structural check: signature plus expiry, no
// store lookup.
func (t *TokenIssuer) ValidateToken(token string) bool {
	_, err := t.ParseAndValidate(token)
	return err == nil
}

// TokenExpiration extracts the expiry of a valid access token.
func (t *TokenIssuer) TokenExpiration(token string) (time.Time, error) {
	claims, err := t.ParseAndValidate(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (t *TokenIssuer) validateClaims(claims *Claims) error {
	if claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// NewRefreshToken mints a high-entropy opaque refresh token value.
func (t *TokenIssuer) NewRefreshToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("refresh token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
