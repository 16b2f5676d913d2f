package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.issuer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		principal := auth.PrincipalFromClaims(claims)
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithUserID(ctx, claims.Subject)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions gates a handler on the caller holding at least one of
// the named permissions. It writes the error response itself and returns
// false when the request must not proceed.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	req := auth.Requirement{AnyOf: perms}
	if len(perms) == 0 {
		req = auth.Requirement{AuthenticatedOnly: true}
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := req.Evaluate(principal); err != nil {
		handleAuthError(w, r, err)
		return false
	}
	return true
}

// callerID returns the authenticated subject, or "" for anonymous requests.
func callerID(ctx context.Context) string {
	if id, ok := auth.UserIDFromContext(ctx); ok {
		return id
	}
	return ""
}

func (a *API) audit(ctx context.Context, event, entity, id string, fields map[string]string) {
	payload := map[string]any{
		"entity":    entity,
		"entity_id": id,
	}
	for k, v := range fields {
		payload[k] = v
	}
	_ = audit.LogEvent(ctx, event, payload)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
