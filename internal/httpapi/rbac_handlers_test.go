package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"authgrid.org/internal/auth"
)

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) del(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodDelete, path, nil, headers)
}

func (c *apiClient) createUser(token, email string) *auth.User {
	c.t.Helper()
	resp := c.post("/v1/admin/users", map[string]any{
		"email":    email,
		"password": "initial-pass-1",
	}, authz(token))
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create user: expected 201, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/v1/admin/users/") {
		c.t.Fatalf("missing Location header, got %q", loc)
	}
	user := decode[*auth.User](c.t, resp)
	return user
}

func (c *apiClient) permissionID(token, name string) string {
	c.t.Helper()
	resp := c.get("/v1/admin/permissions", url.Values{"search": {name}}, authz(token))
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("list permissions: expected 200, got %d", resp.StatusCode)
	}
	page := decode[struct {
		Items []*auth.Permission `json:"items"`
	}](c.t, resp)
	for _, p := range page.Items {
		if p.Name == name {
			return p.ID
		}
	}
	c.t.Fatalf("permission %s not found in %d items", name, len(page.Items))
	return ""
}

func TestAdminUserCRUDFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	user := api.createUser(token, "crud@example.com")

	resp := api.get("/v1/admin/users", url.Values{"search": {"crud"}}, authz(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	page := decode[struct {
		Items []*auth.User `json:"items"`
		Total int          `json:"total"`
	}](t, resp)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected one match, got total=%d items=%d", page.Total, len(page.Items))
	}

	resp = api.put("/v1/admin/users/"+user.ID, map[string]any{
		"first_name": "Grace",
	}, authz(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	updated := decode[*auth.User](t, resp)
	if updated.FirstName != "Grace" || updated.Email != "crud@example.com" {
		t.Fatalf("partial update went wrong: %+v", updated)
	}

	resp = api.post("/v1/admin/users/"+user.ID+"/deactivate", nil, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// deactivated accounts cannot sign in
	resp = api.post("/v1/auth/login", map[string]any{
		"login":     "crud@example.com",
		"password":  "initial-pass-1",
		"device_id": testDevice,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login deactivated: expected 401, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.del("/v1/admin/users/"+user.ID, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.get("/v1/admin/users/"+user.ID, nil, authz(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestAdminCreateUserConflict(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	api.createUser(token, "dup@example.com")
	resp := api.post("/v1/admin/users", map[string]any{
		"email":    "DUP@example.com",
		"password": "initial-pass-1",
	}, authz(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestAdminCannotTargetOwnAccount(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	resp := api.del("/v1/admin/users/"+api.adminID, authz(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("self delete: expected 409, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.post("/v1/admin/users/"+api.adminID+"/deactivate", nil, authz(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("self deactivate: expected 409, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	other := api.createUser(token, "other@example.com")
	resp = api.post("/v1/admin/users/bulk", map[string]any{
		"action": "deactivate",
		"ids":    []string{other.ID, api.adminID},
	}, authz(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("bulk including self: expected 409, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestAdminBulkUserStatus(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	u1 := api.createUser(token, "bulk1@example.com")
	u2 := api.createUser(token, "bulk2@example.com")

	resp := api.post("/v1/admin/users/bulk", map[string]any{
		"action": "deactivate",
		"ids":    []string{u1.ID, u2.ID, "ghost"},
	}, authz(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk deactivate: expected 200, got %d", resp.StatusCode)
	}
	result := decode[auth.BulkResult](t, resp)
	if result.Affected != 2 || result.Skipped != 1 {
		t.Fatalf("expected affected=2 skipped=1, got %+v", result)
	}

	// delete is all-or-nothing: an unknown id fails the whole batch
	resp = api.post("/v1/admin/users/bulk", map[string]any{
		"action": "delete",
		"ids":    []string{u1.ID, "ghost"},
	}, authz(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bulk delete with ghost: expected 404, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.get("/v1/admin/users/"+u1.ID, nil, authz(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user must survive failed batch, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestAssignRoleChangesAccessAfterRelogin(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	registered := decode[authResponse](t, api.post("/v1/auth/register", map[string]any{
		"email":     "promoted@example.com",
		"password":  "correct-horse",
		"device_id": testDevice,
	}, nil))

	resp := api.get("/v1/admin/users", nil, authz(registered.Tokens.AccessToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("before assignment: expected 403, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.post("/v1/admin/roles", map[string]any{
		"name":        "Auditor",
		"description": "read-only access",
	}, authz(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d", resp.StatusCode)
	}
	role := decode[*auth.Role](t, resp)

	permID := api.permissionID(token, auth.PermUsersRead)
	resp = api.post("/v1/admin/roles/"+role.ID+"/permissions", map[string]any{
		"permission_id": permID,
	}, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.post("/v1/admin/users/"+registered.Identity.UserID+"/roles", map[string]any{
		"role_id": role.ID,
	}, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// the old access token is self-contained and stays narrow; a fresh
	// login picks up the new role
	resp = api.get("/v1/admin/users", nil, authz(registered.Tokens.AccessToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stale token: expected 403, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	fresh := api.login("promoted@example.com", "correct-horse")
	resp = api.get("/v1/admin/users", nil, authz(fresh.Tokens.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after relogin: expected 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestRoleDeleteGuard(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	resp := api.post("/v1/admin/roles", map[string]any{"name": "Ephemeral"}, authz(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d", resp.StatusCode)
	}
	role := decode[*auth.Role](t, resp)

	user := api.createUser(token, "holder@example.com")
	resp = api.post("/v1/admin/users/"+user.ID+"/roles", map[string]any{
		"role_id": role.ID,
	}, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.del("/v1/admin/roles/"+role.ID, authz(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete assigned role: expected 409, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.del("/v1/admin/users/"+user.ID+"/roles/"+role.ID, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unassign: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.del("/v1/admin/roles/"+role.ID, authz(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete after unassign: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestPermissionCreateValidation(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	resp := api.post("/v1/admin/permissions", map[string]any{
		"action": "read",
	}, authz(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing resource: expected 400, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.post("/v1/admin/permissions", map[string]any{
		"resource": "Reports",
		"action":   "Export",
	}, authz(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	perm := decode[*auth.Permission](t, resp)
	if perm.Name != "reports.export" {
		t.Fatalf("expected lower-cased defaulted name, got %q", perm.Name)
	}
}

func TestAdminUnknownResourcePaths(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()

	for _, path := range []string{
		"/v1/admin/users/u1/unknown",
		"/v1/admin/roles/r1/permissions/p1/extra",
		"/v1/admin/permissions/p1/roles",
	} {
		resp := api.post(path, map[string]any{}, authz(token))
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}
