// Package memory holds an in-memory implementation of the auth store
// contracts. It backs tests and the dev mode of the API server; nothing in
// it survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"authgrid.org/internal/auth"
)

// Store keeps every table in maps guarded by one mutex. Operations are
// coarse-grained and serialized, which is exactly what the conditional
// revoke semantics need.
type Store struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	roles       map[string]*auth.Role
	perms       map[string]*auth.Permission
	assignments []auth.UserRole
	grants      []auth.RolePermission
	tokens      []*auth.RefreshToken
}

func New() *Store {
	return &Store{
		users: make(map[string]*auth.User),
		roles: make(map[string]*auth.Role),
		perms: make(map[string]*auth.Permission),
	}
}

var _ auth.Store = (*Store)(nil)

func (s *Store) Users() auth.UserStore                 { return (*userStore)(s) }
func (s *Store) Roles() auth.RoleStore                 { return (*roleStore)(s) }
func (s *Store) Permissions() auth.PermissionStore     { return (*permStore)(s) }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return (*tokenStore)(s) }

type userStore Store
type roleStore Store
type permStore Store
type tokenStore Store

func cloneUser(u *auth.User) *auth.User {
	c := *u
	return &c
}

func matchesSearch(s *auth.User, search string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(s.Email), search) ||
		strings.Contains(strings.ToLower(s.FirstName), search) ||
		strings.Contains(strings.ToLower(s.LastName), search)
}

func page[T any](items []T, p auth.ListParams, def int) []T {
	limit := p.Limit
	if limit <= 0 {
		limit = def
	}
	if p.Offset >= len(items) {
		return nil
	}
	items = items[p.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// --- users ---

func (s *userStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return auth.ErrConflict
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *userStore) Find(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) FindByPhone(_ context.Context, phone string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Phone != "" && u.Phone == phone {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) FindByEmailOrPhone(ctx context.Context, login string) (*auth.User, error) {
	if strings.Contains(login, "@") {
		return s.FindByEmail(ctx, login)
	}
	return s.FindByPhone(ctx, login)
}

func (s *userStore) List(_ context.Context, p auth.ListParams) ([]*auth.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*auth.User
	for _, u := range s.users {
		if p.ActiveOnly && !u.IsActive {
			continue
		}
		if !matchesSearch(u, p.Search) {
			continue
		}
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool {
		less := all[i].Email < all[j].Email
		if p.SortDesc {
			return !less
		}
		return less
	})
	total := len(all)
	return page(all, p, 50), total, nil
}

func (s *userStore) Update(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return auth.ErrNotFound
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *userStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *userStore) EmailExists(_ context.Context, email, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.ID != excludeID && strings.ToLower(u.Email) == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *userStore) PhoneExists(_ context.Context, phone, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phone == "" {
		return false, nil
	}
	for _, u := range s.users {
		if u.ID != excludeID && u.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (s *userStore) SetLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (s *userStore) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	u.IsActive = active
	u.UpdatedAt = at
	return true, nil
}

// --- roles ---

func cloneRole(r *auth.Role) *auth.Role {
	c := *r
	return &c
}

func (s *roleStore) Create(_ context.Context, r *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return auth.ErrConflict
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneRole(r), nil
}

func (s *roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return cloneRole(r), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *roleStore) List(_ context.Context, p auth.ListParams) ([]*auth.Role, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*auth.Role
	for _, r := range s.roles {
		if p.ActiveOnly && !r.IsActive {
			continue
		}
		if p.Search != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(p.Search)) {
			continue
		}
		all = append(all, cloneRole(r))
	}
	sort.Slice(all, func(i, j int) bool {
		less := all[i].Name < all[j].Name
		if p.SortDesc {
			return !less
		}
		return less
	})
	total := len(all)
	return page(all, p, 50), total, nil
}

func (s *roleStore) Update(_ context.Context, r *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return auth.ErrNotFound
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *roleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, id)
	return nil
}

func (s *roleStore) NameExists(_ context.Context, name, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.ID != excludeID && strings.EqualFold(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *roleStore) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return false, nil
	}
	r.IsActive = active
	r.UpdatedAt = at
	return true, nil
}

func (s *roleStore) Assign(_ context.Context, ur auth.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assignments {
		a := &s.assignments[i]
		if a.UserID != ur.UserID || a.RoleID != ur.RoleID {
			continue
		}
		if !a.IsActive {
			a.IsActive = true
			a.AssignedAt = ur.AssignedAt
			a.ExpiresAt = ur.ExpiresAt
		}
		return nil
	}
	s.assignments = append(s.assignments, ur)
	return nil
}

func (s *roleStore) Unassign(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assignments {
		a := &s.assignments[i]
		if a.UserID == userID && a.RoleID == roleID {
			a.IsActive = false
		}
	}
	return nil
}

func (s *roleStore) AssignmentsForUser(_ context.Context, userID string) ([]auth.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.UserRole
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *roleStore) ActiveAssignmentCount(_ context.Context, roleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, a := range s.assignments {
		if a.RoleID != roleID || !a.IsActive {
			continue
		}
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			continue
		}
		count++
	}
	return count, nil
}

// --- permissions ---

func clonePerm(p *auth.Permission) *auth.Permission {
	c := *p
	return &c
}

func (s *permStore) Create(_ context.Context, p *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.ID]; ok {
		return auth.ErrConflict
	}
	s.perms[p.ID] = clonePerm(p)
	return nil
}

func (s *permStore) Find(_ context.Context, id string) (*auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return clonePerm(p), nil
}

func (s *permStore) FindByName(_ context.Context, name string) (*auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if strings.EqualFold(p.Name, name) {
			return clonePerm(p), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *permStore) FindByResourceAction(_ context.Context, resource, action string) (*auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if strings.EqualFold(p.Resource, resource) && strings.EqualFold(p.Action, action) {
			return clonePerm(p), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *permStore) List(_ context.Context, lp auth.ListParams) ([]*auth.Permission, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*auth.Permission
	for _, p := range s.perms {
		if lp.ActiveOnly && !p.IsActive {
			continue
		}
		if lp.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(lp.Search)) {
			continue
		}
		all = append(all, clonePerm(p))
	}
	sort.Slice(all, func(i, j int) bool {
		less := all[i].Name < all[j].Name
		if lp.SortDesc {
			return !less
		}
		return less
	})
	total := len(all)
	return page(all, lp, 100), total, nil
}

func (s *permStore) Update(_ context.Context, p *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.ID]; !ok {
		return auth.ErrNotFound
	}
	s.perms[p.ID] = clonePerm(p)
	return nil
}

func (s *permStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.perms, id)
	return nil
}

func (s *permStore) NameExists(_ context.Context, name, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.ID != excludeID && strings.EqualFold(p.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *permStore) ResourceActionExists(_ context.Context, resource, action, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.ID != excludeID && strings.EqualFold(p.Resource, resource) && strings.EqualFold(p.Action, action) {
			return true, nil
		}
	}
	return false, nil
}

func (s *permStore) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return false, nil
	}
	p.IsActive = active
	p.UpdatedAt = at
	return true, nil
}

func (s *permStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, have := range s.perms {
			if strings.EqualFold(have.Name, p.Name) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if p.ID == "" {
			p.ID = p.Name
		}
		s.perms[p.ID] = clonePerm(&p)
	}
	return nil
}

func (s *permStore) Grant(_ context.Context, rp auth.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		g := &s.grants[i]
		if g.RoleID != rp.RoleID || g.PermissionID != rp.PermissionID {
			continue
		}
		if !g.IsActive {
			g.IsActive = true
			g.GrantedAt = rp.GrantedAt
		}
		return nil
	}
	s.grants = append(s.grants, rp)
	return nil
}

func (s *permStore) RevokeGrant(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		g := &s.grants[i]
		if g.RoleID == roleID && g.PermissionID == permissionID {
			g.IsActive = false
		}
	}
	return nil
}

func (s *permStore) GrantsForRole(_ context.Context, roleID string) ([]auth.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.RolePermission
	for _, g := range s.grants {
		if g.RoleID == roleID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *permStore) ActiveGrantCount(_ context.Context, permissionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, g := range s.grants {
		if g.PermissionID == permissionID && g.IsActive {
			count++
		}
	}
	return count, nil
}

// --- refresh tokens ---

func cloneToken(t *auth.RefreshToken) *auth.RefreshToken {
	c := *t
	return &c
}

func (s *tokenStore) Create(_ context.Context, t *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, cloneToken(t))
	return nil
}

func (s *tokenStore) FindByToken(_ context.Context, token string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == token {
			return cloneToken(t), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *tokenStore) ListByUser(_ context.Context, userID string) ([]*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, cloneToken(t))
		}
	}
	return out, nil
}

func (s *tokenStore) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.ActiveAt(now) {
			out = append(out, cloneToken(t))
		}
	}
	return out, nil
}

func (s *tokenStore) Update(_ context.Context, t *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.tokens {
		if have.ID == t.ID {
			s.tokens[i] = cloneToken(t)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *tokenStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tokens {
		if t.ID == id {
			s.tokens = append(s.tokens[:i], s.tokens[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

// Revoke is the conditional write behind rotation: of two concurrent
// callers exactly one observes the active row.
func (s *tokenStore) Revoke(_ context.Context, token string, stamp auth.RevocationStamp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token != token {
			continue
		}
		if t.RevokedAt != nil {
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
	return false, nil
}

func (s *tokenStore) RevokeAllForUser(_ context.Context, userID string, stamp auth.RevocationStamp) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil && stamp.At.Before(t.ExpiresAt) {
			at := stamp.At
			t.RevokedAt = &at
			t.RevokedByIP = stamp.IP
			count++
		}
	}
	return count, nil
}

func (s *tokenStore) RevokeByDevice(_ context.Context, userID, deviceID string, stamp auth.RevocationStamp) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.DeviceID == deviceID && t.RevokedAt == nil && stamp.At.Before(t.ExpiresAt) {
			at := stamp.At
			t.RevokedAt = &at
			t.RevokedByIP = stamp.IP
			count++
		}
	}
	return count, nil
}

func (s *tokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[:0]
	removed := 0
	for _, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.tokens = kept
	return removed, nil
}
