package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/cache"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/store/memory"
	"authgrid.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("AUTHGRID_AUTH_SECRET")
	if secret == "" {
		log.Fatal("AUTHGRID_AUTH_SECRET is required")
	}

	issuerOpts := []auth.IssuerOption{}
	if ttl := envDuration("AUTHGRID_ACCESS_TTL"); ttl > 0 {
		issuerOpts = append(issuerOpts, auth.WithAccessTTL(ttl))
	}
	issuer, err := auth.NewTokenIssuer(secret, issuerOpts...)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var (
		store   auth.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("AUTHGRID_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		log.Println("AUTHGRID_PG_DSN not set, using in-memory store (dev mode)")
		store = memory.New()
	}

	var (
		snapshotCache auth.Cache
		redisCache    *cache.Cache
	)
	if addr := os.Getenv("AUTHGRID_REDIS_ADDR"); addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err = cache.Open(ctx, cache.Config{
			Addr:     addr,
			Password: os.Getenv("AUTHGRID_REDIS_PASSWORD"),
			Prefix:   "authgrid:",
		})
		cancel()
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer redisCache.Close()
		snapshotCache = redisCache
	} else {
		log.Println("AUTHGRID_REDIS_ADDR not set, using in-memory cache")
		snapshotCache = memory.NewCache()
	}

	newID := func() string { return ids.New() }
	resolver := auth.NewResolver(store.Roles(), store.Permissions())

	lifecycleOpts := []auth.LifecycleOption{}
	if ttl := envDuration("AUTHGRID_REFRESH_TTL"); ttl > 0 {
		lifecycleOpts = append(lifecycleOpts, auth.WithRefreshTTL(ttl))
	}
	lifecycle := auth.NewLifecycle(store.RefreshTokens(), issuer, newID, lifecycleOpts...)

	hasher := auth.NewBcryptHasher()
	svc := auth.NewService(store.Users(), store.Roles(), resolver, lifecycle,
		hasher, issuer, snapshotCache, newID)

	admins := httpapi.Admins{
		Users:       auth.NewUserAdmin(store.Users(), store.Roles(), resolver, snapshotCache, newID),
		Roles:       auth.NewRoleAdmin(store.Roles(), store.Permissions(), resolver, snapshotCache, newID),
		Permissions: auth.NewPermissionAdmin(store.Permissions(), resolver, snapshotCache, newID),
	}

	// idempotent: installs catalog entries the seeds may not have reached
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := admins.Permissions.EnsureBuiltins(ctx); err != nil {
			log.Fatalf("ensure builtin permissions: %v", err)
		}
		cancel()
	}

	rp := httpapi.ReadyProbe{}
	if pgStore != nil {
		rp.DB = pgStore.DB()
	}
	if redisCache != nil {
		rp.Cache = redisCache
	}
	api := httpapi.New(rp, version, svc, issuer, admins)

	addr := os.Getenv("AUTHGRID_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepExpiredTokens(sweepCtx, lifecycle)

	log.Printf("Starting authgrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// sweepExpiredTokens hard-deletes refresh tokens past expiry once an hour.
func sweepExpiredTokens(ctx context.Context, lifecycle *auth.Lifecycle) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lifecycle.CleanupExpired(ctx)
			if err != nil {
				log.Printf("token sweep: %v", err)
				continue
			}
			obs.CountSweep(n)
			if n > 0 {
				log.Printf("token sweep removed %d expired tokens", n)
			}
		}
	}
}

func envDuration(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}
