package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type adminFixture struct {
	store    *memStore
	cache    *memCache
	users    *UserAdmin
	roles    *RoleAdmin
	perms    *PermissionAdmin
	resolver *Resolver
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	resolver := NewResolver(store.Roles(), store.Permissions())
	newID := testIDGen()
	return &adminFixture{
		store:    store,
		cache:    cache,
		users:    NewUserAdmin(store.Users(), store.Roles(), resolver, cache, newID),
		roles:    NewRoleAdmin(store.Roles(), store.Permissions(), resolver, cache, newID),
		perms:    NewPermissionAdmin(store.Permissions(), resolver, cache, newID),
		resolver: resolver,
	}
}

func (f *adminFixture) createUser(t *testing.T, email string) *User {
	t.Helper()
	u, err := f.users.Create(context.Background(), CreateUserParams{Email: email, Password: "secret123", Hasher: fakeHasher{}})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *adminFixture) createRole(t *testing.T, name string) *Role {
	t.Helper()
	r, err := f.roles.Create(context.Background(), name, "")
	if err != nil {
		t.Fatalf("create role %s: %v", name, err)
	}
	return r
}

func TestCanPerformManageFallback(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	manager := f.createUser(t, "manager@example.com")
	reader := f.createUser(t, "reader@example.com")
	role := f.createRole(t, "UserManager")
	readRole := f.createRole(t, "UserReader")

	manage, err := f.perms.Create(ctx, CreatePermissionParams{Resource: ResourceUsers, Action: OpManage})
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	read, err := f.perms.Create(ctx, CreatePermissionParams{Resource: ResourceUsers, Action: OpRead})
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := f.roles.GrantPermission(ctx, role.ID, manage.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.roles.GrantPermission(ctx, readRole.ID, read.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.users.AssignRole(ctx, manager.ID, role.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.users.AssignRole(ctx, reader.ID, readRole.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	cases := []struct {
		userID string
		op     string
		want   bool
	}{
		{manager.ID, OpDelete, true}, // users.manage covers every op
		{manager.ID, OpRead, true},
		{reader.ID, OpRead, true},
		{reader.ID, OpDelete, false},
		{"nobody", OpRead, false},
	}
	for _, tc := range cases {
		got, err := f.users.CanPerform(ctx, tc.userID, tc.op)
		if err != nil {
			t.Fatalf("CanPerform(%s, %s): %v", tc.userID, tc.op, err)
		}
		if got != tc.want {
			t.Fatalf("CanPerform(%s, %s) = %v, want %v", tc.userID, tc.op, got, tc.want)
		}
	}
	if _, err := f.users.CanPerform(ctx, manager.ID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty op: got %v, want ErrInvalidInput", err)
	}
}

func TestUserAdminCreateConflicts(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.createUser(t, "taken@example.com")

	if _, err := f.users.Create(ctx, CreateUserParams{Email: "Taken@Example.com", Password: "x", Hasher: fakeHasher{}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}
	if _, err := f.users.Create(ctx, CreateUserParams{Email: "no-at-sign", Password: "x", Hasher: fakeHasher{}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad email: got %v, want ErrInvalidInput", err)
	}
}

func TestUserAdminUpdateExcludesSelfFromUniqueness(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "me@example.com")
	f.createUser(t, "other@example.com")

	// Re-submitting the current email must not conflict with itself.
	same := "me@example.com"
	if _, err := f.users.Update(ctx, u.ID, UpdateUserParams{Email: &same}); err != nil {
		t.Fatalf("no-op email update: %v", err)
	}
	taken := "other@example.com"
	if _, err := f.users.Update(ctx, u.ID, UpdateUserParams{Email: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("taken email: got %v, want ErrConflict", err)
	}
	first := "Ada"
	got, err := f.users.Update(ctx, u.ID, UpdateUserParams{FirstName: &first})
	if err != nil {
		t.Fatalf("update name: %v", err)
	}
	if got.FirstName != "Ada" || got.Email != "me@example.com" {
		t.Fatalf("partial update touched other fields: %+v", got)
	}
}

func TestUserAdminBulkDeleteIsAllOrNothing(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	a := f.createUser(t, "a@example.com")
	b := f.createUser(t, "b@example.com")

	_, err := f.users.Bulk(ctx, BulkDelete, []string{a.ID, "missing", b.ID})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("bulk delete with a missing id: got %v, want ErrNotFound", err)
	}
	// Nothing was deleted: validation runs before any write.
	if _, err := f.users.Get(ctx, a.ID); err != nil {
		t.Fatalf("user a deleted despite failed batch: %v", err)
	}
	if _, err := f.users.Get(ctx, b.ID); err != nil {
		t.Fatalf("user b deleted despite failed batch: %v", err)
	}

	res, err := f.users.Bulk(ctx, BulkDelete, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if res.Affected != 2 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestUserAdminBulkStatusSkipsMissing(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	a := f.createUser(t, "a@example.com")
	b := f.createUser(t, "b@example.com")

	res, err := f.users.Bulk(ctx, BulkDeactivate, []string{a.ID, "missing", b.ID})
	if err != nil {
		t.Fatalf("bulk deactivate: %v", err)
	}
	if res.Affected != 2 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want 2 affected 1 skipped", res)
	}
	got, _ := f.users.Get(ctx, a.ID)
	if got.IsActive {
		t.Fatal("user a still active")
	}

	res, err = f.users.Bulk(ctx, BulkActivate, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("bulk activate: %v", err)
	}
	if res.Affected != 2 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := f.users.Bulk(ctx, BulkAction("archive"), []string{a.ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown action: got %v, want ErrInvalidInput", err)
	}
	if _, err := f.users.Bulk(ctx, BulkActivate, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty ids: got %v, want ErrInvalidInput", err)
	}
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "user@example.com")
	r := f.createRole(t, "Editor")

	if err := f.users.AssignRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.users.AssignRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("re-assign must be a no-op: %v", err)
	}
	assignments, err := f.store.Roles().AssignmentsForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	active := 0
	for _, a := range assignments {
		if a.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active assignments = %d, want exactly 1", active)
	}

	if err := f.users.AssignRole(ctx, u.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown role: got %v, want ErrNotFound", err)
	}
	if err := f.users.AssignRole(ctx, "missing", r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: got %v, want ErrNotFound", err)
	}
}

func TestAssignRoleInvalidatesSnapshot(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "user@example.com")
	r := f.createRole(t, "Editor")

	key := SnapshotKey(u.ID)
	if err := f.cache.Set(ctx, key, IdentitySnapshot{UserID: u.ID}, time.Minute); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := f.users.AssignRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if hit, _ := f.cache.Exists(ctx, key); hit {
		t.Fatal("role assignment must drop the cached snapshot")
	}
}

func TestRoleAdminDeleteGuard(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "user@example.com")
	r := f.createRole(t, "Editor")

	if err := f.users.AssignRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.roles.Delete(ctx, r.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete assigned role: got %v, want ErrConflict", err)
	}
	if _, err := f.roles.Get(ctx, r.ID); err != nil {
		t.Fatalf("guarded role vanished: %v", err)
	}

	// Deactivating the assignment releases the guard.
	if err := f.users.UnassignRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if err := f.roles.Delete(ctx, r.ID); err != nil {
		t.Fatalf("delete after unassign: %v", err)
	}
}

func TestRoleAdminBulkDeleteGuardFailsBatch(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "user@example.com")
	free := f.createRole(t, "Free")
	held := f.createRole(t, "Held")
	if err := f.users.AssignRole(ctx, u.ID, held.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.roles.Bulk(ctx, BulkDelete, []string{free.ID, held.ID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	// The unguarded role survives too: guards run before any delete.
	if _, err := f.roles.Get(ctx, free.ID); err != nil {
		t.Fatalf("free role deleted despite failed batch: %v", err)
	}
}

func TestRoleAdminNameUniqueness(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	r := f.createRole(t, "Editor")
	f.createRole(t, "Viewer")

	if _, err := f.roles.Create(ctx, "Editor", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name: got %v, want ErrConflict", err)
	}
	same := "Editor"
	if _, err := f.roles.Update(ctx, r.ID, &same, nil); err != nil {
		t.Fatalf("no-op rename: %v", err)
	}
	taken := "Viewer"
	if _, err := f.roles.Update(ctx, r.ID, &taken, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("rename to taken name: got %v, want ErrConflict", err)
	}
}

func TestRoleMutationInvalidatesAllSnapshots(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	r := f.createRole(t, "Editor")
	for _, id := range []string{"u1", "u2"} {
		if err := f.cache.Set(ctx, SnapshotKey(id), IdentitySnapshot{UserID: id}, time.Minute); err != nil {
			t.Fatalf("prime cache: %v", err)
		}
	}

	if err := f.roles.SetActive(ctx, r.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	for _, id := range []string{"u1", "u2"} {
		if hit, _ := f.cache.Exists(ctx, SnapshotKey(id)); hit {
			t.Fatalf("snapshot %s survived a role mutation", id)
		}
	}
}

func TestPermissionAdminCreate(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	p, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "Reports", Action: "Read"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Canonical form is lower case, name defaults to resource.action.
	if p.Resource != "reports" || p.Action != "read" || p.Name != "reports.read" {
		t.Fatalf("canonical form broken: %+v", p)
	}

	if _, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "reports", Action: "read", Name: "reports.view"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate (resource, action): got %v, want ErrConflict", err)
	}
	if _, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "audit", Action: "read", Name: "reports.read"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name: got %v, want ErrConflict", err)
	}
	if _, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "", Action: "read"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing resource: got %v, want ErrInvalidInput", err)
	}
}

func TestPermissionAdminUpdateExcludesSelf(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	p, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "reports", Action: "read"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "reports", Action: "write"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Re-submitting the current pair must not conflict with itself.
	res, act := "reports", "read"
	if _, err := f.perms.Update(ctx, p.ID, UpdatePermissionParams{Resource: &res, Action: &act}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	takenAct := "write"
	if _, err := f.perms.Update(ctx, p.ID, UpdatePermissionParams{Action: &takenAct}); !errors.Is(err, ErrConflict) {
		t.Fatalf("move onto taken pair: got %v, want ErrConflict", err)
	}
}

func TestPermissionAdminDeleteGuard(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	r := f.createRole(t, "Editor")
	p, err := f.perms.Create(ctx, CreatePermissionParams{Resource: "reports", Action: "read"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.roles.GrantPermission(ctx, r.ID, p.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := f.perms.Delete(ctx, p.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete granted permission: got %v, want ErrConflict", err)
	}
	if err := f.roles.RevokePermission(ctx, r.ID, p.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.perms.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete after revoke: %v", err)
	}
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	if err := f.perms.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := f.perms.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	_, total, err := f.perms.List(ctx, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != len(BuiltinPermissions) {
		t.Fatalf("catalog size = %d, want %d", total, len(BuiltinPermissions))
	}
	if _, err := f.perms.GetByName(ctx, PermUsersManage); err != nil {
		t.Fatalf("builtin missing: %v", err)
	}
}
