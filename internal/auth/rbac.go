package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BulkAction names the batch operations the admin services accept.
type BulkAction string

const (
	BulkActivate   BulkAction = "activate"
	BulkDeactivate BulkAction = "deactivate"
	BulkDelete     BulkAction = "delete"
)

// BulkResult reports what a bulk call touched. Skipped counts ids that did
// not resolve to a row; only the status-flip actions skip, delete fails the
// whole batch instead.
type BulkResult struct {
	Affected int `json:"affected"`
	Skipped  int `json:"skipped"`
}

// gate answers "may this user perform this operation on this entity". It
// backs every CanPerform method: the required set is the specific
// "<entity>.<op>" permission or the blanket "<entity>.manage".
type gate struct {
	resolver *Resolver
}

func (g gate) canPerform(ctx context.Context, userID, entity, op string) (bool, error) {
	required := OperationPermissions(entity, op)
	if len(required) == 0 {
		return false, fmt.Errorf("%w: unknown operation", ErrInvalidInput)
	}
	perms, _, err := g.resolver.Resolve(ctx, userID)
	if err != nil {
		// Resolution failure is an internal fault, not a forbidden verdict.
		return false, fmt.Errorf("%w: resolve permissions: %v", ErrInternal, err)
	}
	return NewPermissionSet(perms).HasAny(required), nil
}

// UserAdmin is the administrative CRUD service over users.
type UserAdmin struct {
	users UserStore
	roles RoleStore
	gate  gate
	cache Cache
	newID IDGenerator
	now   func() time.Time
}

// NewUserAdmin wires the user administration service.
func NewUserAdmin(users UserStore, roles RoleStore, resolver *Resolver, cache Cache, newID IDGenerator) *UserAdmin {
	return &UserAdmin{users: users, roles: roles, gate: gate{resolver: resolver}, cache: cache, newID: newID, now: time.Now}
}

// CanPerform reports whether the user may run the named operation on users.
func (s *UserAdmin) CanPerform(ctx context.Context, userID, op string) (bool, error) {
	return s.gate.canPerform(ctx, userID, ResourceUsers, op)
}

// List returns a page of users plus the unfiltered total.
func (s *UserAdmin) List(ctx context.Context, p ListParams) ([]*User, int, error) {
	return s.users.List(ctx, p)
}

// Get fetches one user.
func (s *UserAdmin) Get(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.users.Find(ctx, id)
}

// CreateUserParams describe an admin-created account.
type CreateUserParams struct {
	Email     string
	Phone     string
	Password  string
	FirstName string
	LastName  string
	Hasher    PasswordHasher
}

// Create adds a user after uniqueness checks on email and normalized phone.
func (s *UserAdmin) Create(ctx context.Context, p CreateUserParams) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if p.Hasher == nil {
		return nil, fmt.Errorf("%w: password hasher is required", ErrInvalidInput)
	}
	phone, err := NormalizePhone(p.Phone, DefaultPhoneRegion)
	if err != nil {
		return nil, err
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
	hash, err := p.Hasher.Hash(p.Password)
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
	return user, nil
}

// UpdateUserParams carry optional field updates; nil means leave as-is.
type UpdateUserParams struct {
	Email     *string
	Phone     *string
	FirstName *string
	LastName  *string
}

// Update applies field changes after re-running the uniqueness checks,
// excluding the row itself.
func (s *UserAdmin) Update(ctx context.Context, id string, p UpdateUserParams) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*p.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		if exists, err := s.users.EmailExists(ctx, email, id); err != nil {
			return nil, fmt.Errorf("%w: email uniqueness probe: %v", ErrInternal, err)
		} else if exists {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		user.Email = email
	}
	if p.Phone != nil {
		phone, err := NormalizePhone(*p.Phone, DefaultPhoneRegion)
		if err != nil {
			return nil, err
		}
		if phone != "" {
			if exists, err := s.users.PhoneExists(ctx, phone, id); err != nil {
				return nil, fmt.Errorf("%w: phone uniqueness probe: %v", ErrInternal, err)
			} else if exists {
				return nil, fmt.Errorf("%w: phone already registered", ErrConflict)
			}
		}
		user.Phone = phone
	}
	if p.FirstName != nil {
		user.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		user.LastName = strings.TrimSpace(*p.LastName)
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.invalidate(ctx, id)
	return user, nil
}

// SetActive flips the account's active flag. Flipping to the current state
// is a no-op, not an error.
func (s *UserAdmin) SetActive(ctx context.Context, id string, active bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	found, err := s.users.SetActive(ctx, id, active, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	s.invalidate(ctx, id)
	return nil
}

// Delete removes a user row.
func (s *UserAdmin) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if _, err := s.users.Find(ctx, id); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Bulk applies an action to a set of user ids. Delete validates every id up
// front and fails the whole batch on any miss; activate and deactivate
// silently skip missing ids. The asymmetry is long-standing observable
// behavior and is kept on purpose.
func (s *UserAdmin) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkResult, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one id is required", ErrInvalidInput)
	}
	switch action {
	case BulkDelete:
		for _, id := range ids {
			if _, err := s.users.Find(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete user %s: %w", id, err)
			}
		}
		for _, id := range ids {
			if err := s.users.Delete(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete user %s: %w", id, err)
			}
			s.invalidate(ctx, id)
		}
		return BulkResult{Affected: len(ids)}, nil
	case BulkActivate, BulkDeactivate:
		res := BulkResult{}
		at := s.now().UTC()
		for _, id := range ids {
			found, err := s.users.SetActive(ctx, id, action == BulkActivate, at)
			if err != nil {
				return BulkResult{}, fmt.Errorf("bulk status user %s: %w", id, err)
			}
			if !found {
				res.Skipped++
				continue
			}
			res.Affected++
			s.invalidate(ctx, id)
		}
		return res, nil
	default:
		return BulkResult{}, fmt.Errorf("%w: unsupported bulk action %q", ErrInvalidInput, action)
	}
}

// AssignRole gives the user a role. At most one active assignment per
// (user, role) exists; re-assigning is a no-op.
func (s *UserAdmin) AssignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, err := s.users.Find(ctx, userID); err != nil {
		return err
	}
	if _, err := s.roles.Find(ctx, roleID); err != nil {
		return err
	}
	if err := s.roles.Assign(ctx, UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: s.now().UTC(),
		IsActive:   true,
	}); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// UnassignRole soft-deactivates the assignment.
func (s *UserAdmin) UnassignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if err := s.roles.Unassign(ctx, userID, roleID); err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *UserAdmin) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, SnapshotKey(userID))
}

// RoleAdmin is the administrative CRUD service over roles.
type RoleAdmin struct {
	roles RoleStore
	perms PermissionStore
	gate  gate
	cache Cache
	newID IDGenerator
	now   func() time.Time
}

// NewRoleAdmin wires the role administration service.
func NewRoleAdmin(roles RoleStore, perms PermissionStore, resolver *Resolver, cache Cache, newID IDGenerator) *RoleAdmin {
	return &RoleAdmin{roles: roles, perms: perms, gate: gate{resolver: resolver}, cache: cache, newID: newID, now: time.Now}
}

// CanPerform reports whether the user may run the named operation on roles.
func (s *RoleAdmin) CanPerform(ctx context.Context, userID, op string) (bool, error) {
	return s.gate.canPerform(ctx, userID, ResourceRoles, op)
}

// List returns a page of roles plus the unfiltered total.
func (s *RoleAdmin) List(ctx context.Context, p ListParams) ([]*Role, int, error) {
	return s.roles.List(ctx, p)
}

// Get fetches one role.
func (s *RoleAdmin) Get(ctx context.Context, id string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.roles.Find(ctx, id)
}

// GetByName fetches a role by its unique name.
func (s *RoleAdmin) GetByName(ctx context.Context, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.roles.FindByName(ctx, name)
}

// Create adds a role; duplicate names are a Conflict.
func (s *RoleAdmin) Create(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if exists, err := s.roles.NameExists(ctx, name, ""); err != nil {
		return nil, fmt.Errorf("%w: role name probe: %v", ErrInternal, err)
	} else if exists {
		return nil, fmt.Errorf("%w: role name already exists", ErrConflict)
	}
	now := s.now().UTC()
	role := &Role{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return role, nil
}

// Update renames or redescribes a role, excluding itself from the name
// uniqueness probe.
func (s *RoleAdmin) Update(ctx context.Context, id string, name, description *string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.roles.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if exists, err := s.roles.NameExists(ctx, trimmed, id); err != nil {
			return nil, fmt.Errorf("%w: role name probe: %v", ErrInternal, err)
		} else if exists {
			return nil, fmt.Errorf("%w: role name already exists", ErrConflict)
		}
		role.Name = trimmed
	}
	if description != nil {
		role.Description = strings.TrimSpace(*description)
	}
	role.UpdatedAt = s.now().UTC()
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.invalidateAll(ctx)
	return role, nil
}

// SetActive flips the role's active flag.
func (s *RoleAdmin) SetActive(ctx context.Context, id string, active bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	found, err := s.roles.SetActive(ctx, id, active, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set role status: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	s.invalidateAll(ctx)
	return nil
}

// Delete removes a role. A role still referenced by an active user
// assignment cannot be deleted; unassign or deactivate first.
func (s *RoleAdmin) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := s.roles.Find(ctx, id); err != nil {
		return err
	}
	n, err := s.roles.ActiveAssignmentCount(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: assignment probe: %v", ErrInternal, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: role is assigned to %d user(s)", ErrConflict, n)
	}
	if err := s.roles.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	s.invalidateAll(ctx)
	return nil
}

// Bulk applies an action to a set of role ids; same validate-all delete vs
// skip-missing status-flip asymmetry as users.
func (s *RoleAdmin) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkResult, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one id is required", ErrInvalidInput)
	}
	switch action {
	case BulkDelete:
		for _, id := range ids {
			if _, err := s.roles.Find(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete role %s: %w", id, err)
			}
			n, err := s.roles.ActiveAssignmentCount(ctx, id)
			if err != nil {
				return BulkResult{}, fmt.Errorf("%w: assignment probe: %v", ErrInternal, err)
			}
			if n > 0 {
				return BulkResult{}, fmt.Errorf("%w: role %s is still assigned", ErrConflict, id)
			}
		}
		for _, id := range ids {
			if err := s.roles.Delete(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete role %s: %w", id, err)
			}
		}
		s.invalidateAll(ctx)
		return BulkResult{Affected: len(ids)}, nil
	case BulkActivate, BulkDeactivate:
		res := BulkResult{}
		at := s.now().UTC()
		for _, id := range ids {
			found, err := s.roles.SetActive(ctx, id, action == BulkActivate, at)
			if err != nil {
				return BulkResult{}, fmt.Errorf("bulk status role %s: %w", id, err)
			}
			if !found {
				res.Skipped++
				continue
			}
			res.Affected++
		}
		s.invalidateAll(ctx)
		return res, nil
	default:
		return BulkResult{}, fmt.Errorf("%w: unsupported bulk action %q", ErrInvalidInput, action)
	}
}

// GrantPermission grants a permission to the role.
func (s *RoleAdmin) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role id and permission id are required", ErrInvalidInput)
	}
	if _, err := s.roles.Find(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.perms.Find(ctx, permissionID); err != nil {
		return err
	}
	if err := s.perms.Grant(ctx, RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedAt:    s.now().UTC(),
		IsActive:     true,
	}); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	s.invalidateAll(ctx)
	return nil
}

// RevokePermission soft-deactivates the grant.
func (s *RoleAdmin) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role id and permission id are required", ErrInvalidInput)
	}
	if err := s.perms.RevokeGrant(ctx, roleID, permissionID); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	s.invalidateAll(ctx)
	return nil
}

// Role and permission mutations can affect any user, so the whole snapshot
// keyspace is dropped rather than tracking who holds what.
func (s *RoleAdmin) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.DeletePattern(ctx, snapshotKeyPrefix+"*")
}

// PermissionAdmin is the administrative CRUD service over the permission
// catalog.
type PermissionAdmin struct {
	perms PermissionStore
	gate  gate
	cache Cache
	newID IDGenerator
	now   func() time.Time
}

// NewPermissionAdmin wires the permission administration service.
func NewPermissionAdmin(perms PermissionStore, resolver *Resolver, cache Cache, newID IDGenerator) *PermissionAdmin {
	return &PermissionAdmin{perms: perms, gate: gate{resolver: resolver}, cache: cache, newID: newID, now: time.Now}
}

// CanPerform reports whether the user may run the named operation on
// permissions.
func (s *PermissionAdmin) CanPerform(ctx context.Context, userID, op string) (bool, error) {
	return s.gate.canPerform(ctx, userID, ResourcePermissions, op)
}

// List returns a page of permissions plus the unfiltered total.
func (s *PermissionAdmin) List(ctx context.Context, p ListParams) ([]*Permission, int, error) {
	return s.perms.List(ctx, p)
}

// Get fetches one permission.
func (s *PermissionAdmin) Get(ctx context.Context, id string) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.perms.Find(ctx, id)
}

// GetByName fetches a permission by its unique name.
func (s *PermissionAdmin) GetByName(ctx context.Context, name string) (*Permission, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	return s.perms.FindByName(ctx, name)
}

// GetByResourceAction fetches a permission by its (resource, action) pair.
func (s *PermissionAdmin) GetByResourceAction(ctx context.Context, resource, action string) (*Permission, error) {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	return s.perms.FindByResourceAction(ctx, resource, action)
}

// CreatePermissionParams describe a new catalog entry.
type CreatePermissionParams struct {
	Resource    string
	Action      string
	Name        string
	Description string
}

// Create adds a permission after probing both uniqueness invariants: name,
// and the (resource, action) pair. Resource, action and name are
// lower-cased here so reads never case-fold.
func (s *PermissionAdmin) Create(ctx context.Context, p CreatePermissionParams) (*Permission, error) {
	resource := strings.TrimSpace(strings.ToLower(p.Resource))
	action := strings.TrimSpace(strings.ToLower(p.Action))
	name := strings.TrimSpace(strings.ToLower(p.Name))
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if name == "" {
		name = resource + "." + action
	}
	if exists, err := s.perms.NameExists(ctx, name, ""); err != nil {
		return nil, fmt.Errorf("%w: permission name probe: %v", ErrInternal, err)
	} else if exists {
		return nil, fmt.Errorf("%w: permission name already exists", ErrConflict)
	}
	if exists, err := s.perms.ResourceActionExists(ctx, resource, action, ""); err != nil {
		return nil, fmt.Errorf("%w: resource-action probe: %v", ErrInternal, err)
	} else if exists {
		return nil, fmt.Errorf("%w: permission for (%s, %s) already exists", ErrConflict, resource, action)
	}
	now := s.now().UTC()
	perm := &Permission{
		ID:          s.newID(),
		Resource:    resource,
		Action:      action,
		Name:        name,
		Description: strings.TrimSpace(p.Description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.perms.Create(ctx, perm); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return perm, nil
}

// UpdatePermissionParams carry optional field updates.
type UpdatePermissionParams struct {
	Resource    *string
	Action      *string
	Name        *string
	Description *string
}

// Update changes a permission, excluding the row itself from both
// uniqueness probes.
func (s *PermissionAdmin) Update(ctx context.Context, id string, p UpdatePermissionParams) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	perm, err := s.perms.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	resource := perm.Resource
	action := perm.Action
	if p.Resource != nil {
		resource = strings.TrimSpace(strings.ToLower(*p.Resource))
	}
	if p.Action != nil {
		action = strings.TrimSpace(strings.ToLower(*p.Action))
	}
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if resource != perm.Resource || action != perm.Action {
		if exists, err := s.perms.ResourceActionExists(ctx, resource, action, id); err != nil {
			return nil, fmt.Errorf("%w: resource-action probe: %v", ErrInternal, err)
		} else if exists {
			return nil, fmt.Errorf("%w: permission for (%s, %s) already exists", ErrConflict, resource, action)
		}
	}
	if p.Name != nil {
		name := strings.TrimSpace(strings.ToLower(*p.Name))
		if name == "" {
			return nil, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
		}
		if exists, err := s.perms.NameExists(ctx, name, id); err != nil {
			return nil, fmt.Errorf("%w: permission name probe: %v", ErrInternal, err)
		} else if exists {
			return nil, fmt.Errorf("%w: permission name already exists", ErrConflict)
		}
		perm.Name = name
	}
	perm.Resource = resource
	perm.Action = action
	if p.Description != nil {
		perm.Description = strings.TrimSpace(*p.Description)
	}
	perm.UpdatedAt = s.now().UTC()
	if err := s.perms.Update(ctx, perm); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}
	s.invalidateAll(ctx)
	return perm, nil
}

// SetActive flips the permission's active flag.
func (s *PermissionAdmin) SetActive(ctx context.Context, id string, active bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	found, err := s.perms.SetActive(ctx, id, active, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set permission status: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	s.invalidateAll(ctx)
	return nil
}

// Delete removes a permission. A permission still referenced by an active
// role grant cannot be deleted; revoke or deactivate the grant first.
func (s *PermissionAdmin) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	if _, err := s.perms.Find(ctx, id); err != nil {
		return err
	}
	n, err := s.perms.ActiveGrantCount(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: grant probe: %v", ErrInternal, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: permission is granted to %d role(s)", ErrConflict, n)
	}
	if err := s.perms.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	s.invalidateAll(ctx)
	return nil
}

// Bulk applies an action to a set of permission ids; delete validates all
// ids and guards up front, status flips skip missing ids.
func (s *PermissionAdmin) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkResult, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one id is required", ErrInvalidInput)
	}
	switch action {
	case BulkDelete:
		for _, id := range ids {
			if _, err := s.perms.Find(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete permission %s: %w", id, err)
			}
			n, err := s.perms.ActiveGrantCount(ctx, id)
			if err != nil {
				return BulkResult{}, fmt.Errorf("%w: grant probe: %v", ErrInternal, err)
			}
			if n > 0 {
				return BulkResult{}, fmt.Errorf("%w: permission %s is still granted", ErrConflict, id)
			}
		}
		for _, id := range ids {
			if err := s.perms.Delete(ctx, id); err != nil {
				return BulkResult{}, fmt.Errorf("bulk delete permission %s: %w", id, err)
			}
		}
		s.invalidateAll(ctx)
		return BulkResult{Affected: len(ids)}, nil
	case BulkActivate, BulkDeactivate:
		res := BulkResult{}
		at := s.now().UTC()
		for _, id := range ids {
			found, err := s.perms.SetActive(ctx, id, action == BulkActivate, at)
			if err != nil {
				return BulkResult{}, fmt.Errorf("bulk status permission %s: %w", id, err)
			}
			if !found {
				res.Skipped++
				continue
			}
			res.Affected++
		}
		s.invalidateAll(ctx)
		return res, nil
	default:
		return BulkResult{}, fmt.Errorf("%w: unsupported bulk action %q", ErrInvalidInput, action)
	}
}

// EnsureBuiltins installs the closed permission catalog (seed path).
func (s *PermissionAdmin) EnsureBuiltins(ctx context.Context) error {
	return s.perms.Ensure(ctx, BuiltinPermissions)
}

func (s *PermissionAdmin) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.DeletePattern(ctx, snapshotKeyPrefix+"*")
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
