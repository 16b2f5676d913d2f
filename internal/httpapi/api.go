package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

// Pinger is anything that can answer a liveness ping, e.g. the snapshot
// cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Admins groups the administrative services behind the /v1/admin routes.
type Admins struct {
	Users       *auth.UserAdmin
	Roles       *auth.RoleAdmin
	Permissions *auth.PermissionAdmin
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth   *auth.Service
	issuer *auth.TokenIssuer
	admins Admins
	hasher auth.PasswordHasher

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

func New(rp ReadyProbe, version string, svc *auth.Service, issuer *auth.TokenIssuer, admins Admins) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		auth:         svc,
		issuer:       issuer,
		admins:       admins,
		hasher:       auth.NewBcryptHasher(),
		rateBurst:    40,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	// admin CRUD
	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserResource)
	a.mux.HandleFunc("/v1/admin/roles", a.handleAdminRoles)
	a.mux.HandleFunc("/v1/admin/roles/", a.handleAdminRoleResource)
	a.mux.HandleFunc("/v1/admin/permissions", a.handleAdminPermissions)
	a.mux.HandleFunc("/v1/admin/permissions/", a.handleAdminPermissionResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux. Authentication
// runs innermost so every other layer sees unauthenticated requests too.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgrid-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authgrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
