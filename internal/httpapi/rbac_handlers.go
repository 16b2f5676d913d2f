package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"authgrid.org/internal/auth"
)

type createUserRequest struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type createPermissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updatePermissionRequest struct {
	Resource    *string `json:"resource"`
	Action      *string `json:"action"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type grantPermissionRequest struct {
	PermissionID string `json:"permission_id"`
}

type bulkRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

type listResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// --- users ---

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if a.admins.Users == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpRead)...) {
			return
		}
		params, err := parseListParams(r, 50, 500)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		users, total, err := a.admins.Users.List(r.Context(), params)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: users, Total: total, Offset: params.Offset, Limit: params.Limit})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpCreate)...) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admins.Users.Create(r.Context(), auth.CreateUserParams{
			Email:     req.Email,
			Phone:     req.Phone,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Hasher:    a.hasher,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.user.create", "user", user.ID, map[string]string{
			"email": user.Email,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/admin/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminUserResource(w http.ResponseWriter, r *http.Request) {
	if a.admins.Users == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	parts := resourceParts(r.URL.Path, "/v1/admin/users/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if parts[0] == "bulk" {
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleUserBulk(w, r)
		return
	}
	userID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleUserByID(w, r, userID)
	case len(parts) == 2 && (parts[1] == "activate" || parts[1] == "deactivate"):
		a.handleUserStatus(w, r, userID, parts[1] == "activate")
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoleAssign(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRoleUnassign(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpRead)...) {
			return
		}
		user, err := a.admins.Users.Get(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpUpdate)...) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admins.Users.Update(r.Context(), userID, auth.UpdateUserParams{
			Email:     req.Email,
			Phone:     req.Phone,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.user.update", "user", user.ID, nil)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpDelete)...) {
			return
		}
		if userID == callerID(r.Context()) {
			writeError(w, r, http.StatusConflict, "cannot target your own account")
			return
		}
		if err := a.admins.Users.Delete(r.Context(), userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.user.delete", "user", userID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, userID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpUpdate)...) {
		return
	}
	if !active && userID == callerID(r.Context()) {
		writeError(w, r, http.StatusConflict, "cannot target your own account")
		return
	}
	if err := a.admins.Users.SetActive(r.Context(), userID, active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	event := "rbac.user.deactivate"
	if active {
		event = "rbac.user.activate"
	}
	a.audit(r.Context(), event, "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermUsersManage) {
		return
	}
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller := callerID(r.Context())
	for _, id := range req.IDs {
		if id == caller {
			writeError(w, r, http.StatusConflict, "cannot target your own account")
			return
		}
	}
	result, err := a.admins.Users.Bulk(r.Context(), auth.BulkAction(req.Action), req.IDs)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.bulk", "user", "", map[string]string{
		"action": req.Action,
		"count":  fmt.Sprintf("%d", len(req.IDs)),
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUserRoleAssign(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpAssign)...) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := a.admins.Users.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.assign_role", "user", userID, map[string]string{
		"role_id": req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoleUnassign(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceUsers, auth.OpAssign)...) {
		return
	}
	if err := a.admins.Users.UnassignRole(r.Context(), userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.unassign_role", "user", userID, map[string]string{
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- roles ---

func (a *API) handleAdminRoles(w http.ResponseWriter, r *http.Request) {
	if a.admins.Roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpRead)...) {
			return
		}
		params, err := parseListParams(r, 50, 500)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		roles, total, err := a.admins.Roles.List(r.Context(), params)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: roles, Total: total, Offset: params.Offset, Limit: params.Limit})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpCreate)...) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admins.Roles.Create(r.Context(), req.Name, req.Description)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.role.create", "role", role.ID, map[string]string{
			"name": role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/admin/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.admins.Roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	parts := resourceParts(r.URL.Path, "/v1/admin/roles/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if parts[0] == "bulk" {
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleRoleBulk(w, r)
		return
	}
	roleID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, roleID)
	case len(parts) == 2 && (parts[1] == "activate" || parts[1] == "deactivate"):
		a.handleRoleStatus(w, r, roleID, parts[1] == "activate")
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRoleGrant(w, r, roleID)
	case len(parts) == 3 && parts[1] == "permissions":
		a.handleRoleRevoke(w, r, roleID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpRead)...) {
			return
		}
		role, err := a.admins.Roles.Get(r.Context(), roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpUpdate)...) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admins.Roles.Update(r.Context(), roleID, req.Name, req.Description)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.role.update", "role", role.ID, nil)
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpDelete)...) {
			return
		}
		if err := a.admins.Roles.Delete(r.Context(), roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.role.delete", "role", roleID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRoleStatus(w http.ResponseWriter, r *http.Request, roleID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpUpdate)...) {
		return
	}
	if err := a.admins.Roles.SetActive(r.Context(), roleID, active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	event := "rbac.role.deactivate"
	if active {
		event = "rbac.role.activate"
	}
	a.audit(r.Context(), event, "role", roleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesManage) {
		return
	}
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.admins.Roles.Bulk(r.Context(), auth.BulkAction(req.Action), req.IDs)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.bulk", "role", "", map[string]string{
		"action": req.Action,
		"count":  fmt.Sprintf("%d", len(req.IDs)),
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRoleGrant(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpAssign)...) {
		return
	}
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.PermissionID = strings.TrimSpace(req.PermissionID)
	if req.PermissionID == "" {
		writeError(w, r, http.StatusBadRequest, "permission_id is required")
		return
	}
	if err := a.admins.Roles.GrantPermission(r.Context(), roleID, req.PermissionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.grant", "role", roleID, map[string]string{
		"permission_id": req.PermissionID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoleRevoke(w http.ResponseWriter, r *http.Request, roleID, permissionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourceRoles, auth.OpAssign)...) {
		return
	}
	if err := a.admins.Roles.RevokePermission(r.Context(), roleID, permissionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.revoke", "role", roleID, map[string]string{
		"permission_id": permissionID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- permissions ---

func (a *API) handleAdminPermissions(w http.ResponseWriter, r *http.Request) {
	if a.admins.Permissions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpRead)...) {
			return
		}
		params, err := parseListParams(r, 100, 500)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perms, total, err := a.admins.Permissions.List(r.Context(), params)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: perms, Total: total, Offset: params.Offset, Limit: params.Limit})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpCreate)...) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.admins.Permissions.Create(r.Context(), auth.CreatePermissionParams{
			Resource:    req.Resource,
			Action:      req.Action,
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.permission.create", "permission", perm.ID, map[string]string{
			"name": perm.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/admin/permissions/%s", perm.ID))
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminPermissionResource(w http.ResponseWriter, r *http.Request) {
	if a.admins.Permissions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	parts := resourceParts(r.URL.Path, "/v1/admin/permissions/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if parts[0] == "bulk" {
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePermissionBulk(w, r)
		return
	}
	permID := parts[0]
	switch {
	case len(parts) == 1:
		a.handlePermissionByID(w, r, permID)
	case len(parts) == 2 && (parts[1] == "activate" || parts[1] == "deactivate"):
		a.handlePermissionStatus(w, r, permID, parts[1] == "activate")
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePermissionByID(w http.ResponseWriter, r *http.Request, permID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpRead)...) {
			return
		}
		perm, err := a.admins.Permissions.Get(r.Context(), permID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, perm)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpUpdate)...) {
			return
		}
		var req updatePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.admins.Permissions.Update(r.Context(), permID, auth.UpdatePermissionParams{
			Resource:    req.Resource,
			Action:      req.Action,
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.permission.update", "permission", perm.ID, nil)
		writeJSON(w, http.StatusOK, perm)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpDelete)...) {
			return
		}
		if err := a.admins.Permissions.Delete(r.Context(), permID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.permission.delete", "permission", permID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handlePermissionStatus(w http.ResponseWriter, r *http.Request, permID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.OperationPermissions(auth.ResourcePermissions, auth.OpUpdate)...) {
		return
	}
	if err := a.admins.Permissions.SetActive(r.Context(), permID, active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	event := "rbac.permission.deactivate"
	if active {
		event = "rbac.permission.activate"
	}
	a.audit(r.Context(), event, "permission", permID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissionBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermPermissionsManage) {
		return
	}
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.admins.Permissions.Bulk(r.Context(), auth.BulkAction(req.Action), req.IDs)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.bulk", "permission", "", map[string]string{
		"action": req.Action,
		"count":  fmt.Sprintf("%d", len(req.IDs)),
	})
	writeJSON(w, http.StatusOK, result)
}

// resourceParts splits the path below a route prefix into clean segments.
func resourceParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
