package auth

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func testIDGen() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func seedRBAC(t *testing.T, store *memStore) (userID, roleID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	user := &User{ID: "u1", Email: "user@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	role := &Role{ID: "r1", Name: "Editor", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	perms := []*Permission{
		{ID: "p1", Resource: "data", Action: "read", Name: "data.read", IsActive: true},
		{ID: "p2", Resource: "data", Action: "write", Name: "data.write", IsActive: true},
		{ID: "p3", Resource: "archive", Action: "read", Name: "archive.read", IsActive: true},
	}
	for _, p := range perms {
		if err := store.Permissions().Create(ctx, p); err != nil {
			t.Fatalf("create permission %s: %v", p.Name, err)
		}
	}
	if err := store.Roles().Assign(ctx, UserRole{UserID: "u1", RoleID: "r1", AssignedAt: now, IsActive: true}); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	for _, pid := range []string{"p1", "p2", "p3"} {
		if err := store.Permissions().Grant(ctx, RolePermission{RoleID: "r1", PermissionID: pid, GrantedAt: now, IsActive: true}); err != nil {
			t.Fatalf("grant %s: %v", pid, err)
		}
	}
	return "u1", "r1"
}

func TestResolveEffectivePermissions(t *testing.T) {
	store := newMemStore()
	userID, _ := seedRBAC(t, store)
	resolver := NewResolver(store.Roles(), store.Permissions())

	perms, roles, err := resolver.Resolve(context.Background(), userID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 3 {
		t.Fatalf("expected 3 permissions, got %d", len(perms))
	}
	// Deterministic ordering by (resource, action).
	if perms[0].Name != "archive.read" || perms[1].Name != "data.read" || perms[2].Name != "data.write" {
		t.Fatalf("unexpected order: %s %s %s", perms[0].Name, perms[1].Name, perms[2].Name)
	}
	if len(roles) != 1 || roles[0].Name != "Editor" {
		t.Fatalf("unexpected roles: %v", roles)
	}
}

func TestResolveMissingUserYieldsEmptySet(t *testing.T) {
	store := newMemStore()
	seedRBAC(t, store)
	resolver := NewResolver(store.Roles(), store.Permissions())

	perms, roles, err := resolver.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Resolve on missing user must not error, got %v", err)
	}
	if len(perms) != 0 || len(roles) != 0 {
		t.Fatalf("expected empty result, got %d perms %d roles", len(perms), len(roles))
	}
}

func TestResolveExcludesInactiveEdges(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	cases := map[string]func(*memStore){
		"inactive assignment": func(s *memStore) {
			_ = s.Roles().Unassign(ctx, "u1", "r1")
		},
		"inactive role": func(s *memStore) {
			_, _ = s.Roles().SetActive(ctx, "r1", false, now)
		},
		"inactive grants": func(s *memStore) {
			for _, pid := range []string{"p1", "p2", "p3"} {
				_ = s.Permissions().RevokeGrant(ctx, "r1", pid)
			}
		},
		"inactive permissions": func(s *memStore) {
			for _, pid := range []string{"p1", "p2", "p3"} {
				_, _ = s.Permissions().SetActive(ctx, pid, false, now)
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			userID, _ := seedRBAC(t, store)
			mutate(store)
			resolver := NewResolver(store.Roles(), store.Permissions())
			perms, _, err := resolver.Resolve(ctx, userID)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(perms) != 0 {
				t.Fatalf("expected empty set, got %d", len(perms))
			}
		})
	}
}

func TestResolveAddingInactiveRoleChangesNothing(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := newMemStore()
	userID, _ := seedRBAC(t, store)

	inactive := &Role{ID: "r2", Name: "Dormant", IsActive: false, CreatedAt: now, UpdatedAt: now}
	if err := store.Roles().Create(ctx, inactive); err != nil {
		t.Fatalf("create role: %v", err)
	}
	extra := &Permission{ID: "p9", Resource: "secrets", Action: "read", Name: "secrets.read", IsActive: true}
	if err := store.Permissions().Create(ctx, extra); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := store.Permissions().Grant(ctx, RolePermission{RoleID: "r2", PermissionID: "p9", GrantedAt: now, IsActive: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := store.Roles().Assign(ctx, UserRole{UserID: userID, RoleID: "r2", AssignedAt: now, IsActive: true}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolver := NewResolver(store.Roles(), store.Permissions())
	perms, _, err := resolver.Resolve(ctx, userID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 3 {
		t.Fatalf("inactive role leaked permissions: got %d", len(perms))
	}
	if NewPermissionSet(perms).HasName("secrets.read") {
		t.Fatal("permission from inactive role must not resolve")
	}
}

func TestResolveExpiredAssignmentIsInactive(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	userID, roleID := seedRBAC(t, store)

	// Rewrite the assignment with a past expiry.
	_ = store.Roles().Unassign(ctx, userID, roleID)
	past := time.Now().UTC().Add(-time.Hour)
	if err := store.Roles().Assign(ctx, UserRole{UserID: userID, RoleID: roleID, AssignedAt: past.Add(-time.Hour), ExpiresAt: &past, IsActive: true}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolver := NewResolver(store.Roles(), store.Permissions())
	perms, _, err := resolver.Resolve(ctx, userID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expired assignment still resolves %d permissions", len(perms))
	}
}

func TestResolveDeduplicatesSharedPermissions(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := newMemStore()
	userID, _ := seedRBAC(t, store)

	second := &Role{ID: "r2", Name: "Reviewer", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.Roles().Create(ctx, second); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := store.Permissions().Grant(ctx, RolePermission{RoleID: "r2", PermissionID: "p1", GrantedAt: now, IsActive: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := store.Roles().Assign(ctx, UserRole{UserID: userID, RoleID: "r2", AssignedAt: now, IsActive: true}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolver := NewResolver(store.Roles(), store.Permissions())
	perms, roles, err := resolver.Resolve(ctx, userID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 3 {
		t.Fatalf("shared permission duplicated: got %d", len(perms))
	}
	if len(roles) != 2 {
		t.Fatalf("expected both roles, got %d", len(roles))
	}
}
