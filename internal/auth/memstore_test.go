package auth

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same observable semantics the
// SQL implementation has, including the conditional revoke used by token
// rotation. It backs the core tests.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*User
	roles       map[string]*Role
	perms       map[string]*Permission
	assignments []UserRole
	grants      []RolePermission
	tokens      map[string]*RefreshToken // keyed by token value
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*User),
		roles:  make(map[string]*Role),
		perms:  make(map[string]*Permission),
		tokens: make(map[string]*RefreshToken),
	}
}

func (m *memStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *memStore) Roles() RoleStore                 { return (*memRoles)(m) }
func (m *memStore) Permissions() PermissionStore     { return (*memPerms)(m) }
func (m *memStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
		if u.Phone != "" && existing.Phone == u.Phone {
			return ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByPhone(_ context.Context, phone string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone != "" && u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByEmailOrPhone(ctx context.Context, login string) (*User, error) {
	if strings.Contains(login, "@") {
		return m.FindByEmail(ctx, login)
	}
	return m.FindByPhone(ctx, login)
}

func (m *memUsers) List(_ context.Context, p ListParams) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*User
	for _, u := range m.users {
		if p.ActiveOnly && !u.IsActive {
			continue
		}
		if p.Search != "" && !strings.Contains(u.Email, strings.ToLower(p.Search)) {
			continue
		}
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	return page(all, p), len(all), nil
}

func (m *memUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) EmailExists(_ context.Context, email, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if id != excludeID && u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) PhoneExists(_ context.Context, phone, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if id != excludeID && u.Phone != "" && u.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) SetLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.IsActive = active
	u.UpdatedAt = at
	return true, nil
}

type memRoles memStore

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if strings.EqualFold(existing.Name, r.Name) {
			return ErrConflict
		}
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(_ context.Context, p ListParams) ([]*Role, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Role
	for _, r := range m.roles {
		if p.ActiveOnly && !r.IsActive {
			continue
		}
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, p), len(all), nil
}

func (m *memRoles) Update(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memRoles) NameExists(_ context.Context, name, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.roles {
		if id != excludeID && strings.EqualFold(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRoles) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return false, nil
	}
	r.IsActive = active
	r.UpdatedAt = at
	return true, nil
}

func (m *memRoles) Assign(_ context.Context, ur UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.UserID == ur.UserID && a.RoleID == ur.RoleID && a.IsActive {
			return nil
		}
	}
	m.assignments = append(m.assignments, ur)
	return nil
}

func (m *memRoles) Unassign(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.UserID == userID && a.RoleID == roleID && a.IsActive {
			a.IsActive = false
		}
	}
	return nil
}

func (m *memRoles) AssignmentsForUser(_ context.Context, userID string) ([]UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserRole
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRoles) ActiveAssignmentCount(_ context.Context, roleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.IsActive {
			n++
		}
	}
	return n, nil
}

type memPerms memStore

func (m *memPerms) Create(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perms {
		if existing.Name == p.Name {
			return ErrConflict
		}
		if existing.Resource == p.Resource && existing.Action == p.Action {
			return ErrConflict
		}
	}
	cp := *p
	m.perms[p.ID] = &cp
	return nil
}

func (m *memPerms) Find(_ context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPerms) FindByName(_ context.Context, name string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPerms) FindByResourceAction(_ context.Context, resource, action string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Resource == resource && p.Action == action {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPerms) List(_ context.Context, p ListParams) ([]*Permission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Permission
	for _, perm := range m.perms {
		if p.ActiveOnly && !perm.IsActive {
			continue
		}
		cp := *perm
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Resource != all[j].Resource {
			return all[i].Resource < all[j].Resource
		}
		return all[i].Action < all[j].Action
	})
	return page(all, p), len(all), nil
}

func (m *memPerms) Update(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.perms[p.ID] = &cp
	return nil
}

func (m *memPerms) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[id]; !ok {
		return ErrNotFound
	}
	delete(m.perms, id)
	return nil
}

func (m *memPerms) NameExists(_ context.Context, name, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.perms {
		if id != excludeID && p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memPerms) ResourceActionExists(_ context.Context, resource, action, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.perms {
		if id != excludeID && p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (m *memPerms) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return false, nil
	}
	p.IsActive = active
	p.UpdatedAt = at
	return true, nil
}

func (m *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	for i := range perms {
		p := perms[i]
		if p.ID == "" {
			p.ID = p.Name
		}
		p.IsActive = true
		if _, err := m.FindByName(ctx, p.Name); err == nil {
			continue
		}
		if err := m.Create(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

func (m *memPerms) Grant(_ context.Context, rp RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.RoleID == rp.RoleID && g.PermissionID == rp.PermissionID && g.IsActive {
			return nil
		}
	}
	m.grants = append(m.grants, rp)
	return nil
}

func (m *memPerms) RevokeGrant(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.grants {
		g := &m.grants[i]
		if g.RoleID == roleID && g.PermissionID == permissionID && g.IsActive {
			g.IsActive = false
		}
	}
	return nil
}

func (m *memPerms) GrantsForRole(_ context.Context, roleID string) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RolePermission
	for _, g := range m.grants {
		if g.RoleID == roleID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memPerms) ActiveGrantCount(_ context.Context, permissionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.grants {
		if g.PermissionID == permissionID && g.IsActive {
			n++
		}
	}
	return n, nil
}

type memTokens memStore

func (m *memTokens) Create(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.Token]; ok {
		return ErrConflict
	}
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memTokens) FindByToken(_ context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) ListByUser(_ context.Context, userID string) ([]*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memTokens) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.ActiveAt(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memTokens) Update(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.Token]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memTokens) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for value, t := range m.tokens {
		if t.ID == id {
			delete(m.tokens, value)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memTokens) Revoke(_ context.Context, token string, stamp RevocationStamp) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	at := stamp.At
	t.RevokedAt = &at
	t.RevokedByIP = stamp.IP
	t.ReplacedByToken = stamp.ReplacedBy
	if stamp.MarkUsed {
		t.UsedAt = &at
	}
	return true, nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID string, stamp RevocationStamp) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.ActiveAt(stamp.At) {
			at := stamp.At
			t.RevokedAt = &at
			t.RevokedByIP = stamp.IP
			n++
		}
	}
	return n, nil
}

func (m *memTokens) RevokeByDevice(_ context.Context, userID, deviceID string, stamp RevocationStamp) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.DeviceID == deviceID && t.ActiveAt(stamp.At) {
			at := stamp.At
			t.RevokedAt = &at
			t.RevokedByIP = stamp.IP
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for value, t := range m.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(m.tokens, value)
			n++
		}
	}
	return n, nil
}

func page[T any](all []*T, p ListParams) []*T {
	offset := p.Offset
	if offset > len(all) {
		offset = len(all)
	}
	out := all[offset:]
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out
}

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = data
	c.mu.Unlock()
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *memCache) DeletePattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	return ok, nil
}
