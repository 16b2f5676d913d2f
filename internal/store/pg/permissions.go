package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgrid.org/internal/auth"
)

type permissionStore struct {
	db *sql.DB
}

const permissionColumns = `id, resource, action, name, description, is_active, created_at, updated_at`

var permissionSortColumns = map[string]string{
	"name":       "name",
	"resource":   "resource",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func scanPermission(row interface{ Scan(...any) error }) (*auth.Permission, error) {
	var (
		p    auth.Permission
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Resource, &p.Action, &p.Name, &desc, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = stringOr(desc)
	return &p, nil
}

func (s *permissionStore) Create(ctx context.Context, p *auth.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, name, description, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Resource, p.Action, p.Name, nullIfEmpty(p.Description), p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`select `+permissionColumns+` from permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`select `+permissionColumns+` from permissions where name = lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *permissionStore) FindByResourceAction(ctx context.Context, resource, action string) (*auth.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`select `+permissionColumns+` from permissions where resource = lower($1) and action = lower($2)`,
		resource, action))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *permissionStore) List(ctx context.Context, p auth.ListParams) ([]*auth.Permission, int, error) {
	where := []string{"true"}
	args := []any{}
	idx := 1
	if search := strings.TrimSpace(p.Search); search != "" {
		where = append(where, fmt.Sprintf(
			"(name ilike $%d or resource ilike $%d or description ilike $%d)", idx, idx, idx))
		args = append(args, "%"+search+"%")
		idx++
	}
	if p.ActiveOnly {
		where = append(where, "is_active")
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from permissions where `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`select %s from permissions where %s order by %s %s limit $%d offset $%d`,
		permissionColumns, cond, sortColumn(p.SortBy, permissionSortColumns), sortDirection(p.SortDesc), idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*auth.Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *permissionStore) Update(ctx context.Context, p *auth.Permission) error {
	res, err := s.db.ExecContext(ctx, `
		update permissions
		set resource = $2, action = $3, name = $4, description = $5, is_active = $6, updated_at = $7
		where id = $1
	`, p.ID, p.Resource, p.Action, p.Name, nullIfEmpty(p.Description), p.IsActive, p.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *permissionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *permissionStore) NameExists(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from permissions where name = lower($1) and id <> $2)
	`, name, excludeID).Scan(&exists)
	return exists, err
}

func (s *permissionStore) ResourceActionExists(ctx context.Context, resource, action, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from permissions
			where resource = lower($1) and action = lower($2) and id <> $3
		)
	`, resource, action, excludeID).Scan(&exists)
	return exists, err
}

func (s *permissionStore) SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update permissions set is_active = $2, updated_at = $3 where id = $1`, id, active, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ensure installs missing catalog rows. Existing names are left untouched
// so redeploys never overwrite operator edits.
func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = p.Name
		}
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, resource, action, name, description, is_active, created_at, updated_at)
			values ($1, lower($2), lower($3), lower($4), $5, true, now(), now())
			on conflict (name) do nothing
		`, id, p.Resource, p.Action, p.Name, nullIfEmpty(p.Description))
		if err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
	}
	return nil
}

// Grant inserts the grant or reactivates a prior soft-deactivated row,
// mirroring role assignment semantics.
func (s *permissionStore) Grant(ctx context.Context, rp auth.RolePermission) error {
	res, err := s.db.ExecContext(ctx, `
		update role_permissions set is_active = true, granted_at = $3
		where role_id = $1 and permission_id = $2 and not is_active
	`, rp.RoleID, rp.PermissionID, rp.GrantedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, granted_at, is_active)
		values ($1, $2, $3, $4)
	`, rp.RoleID, rp.PermissionID, rp.GrantedAt, rp.IsActive)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil
		}
		return mapWriteError(err)
	}
	return nil
}

func (s *permissionStore) RevokeGrant(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		update role_permissions set is_active = false
		where role_id = $1 and permission_id = $2 and is_active
	`, roleID, permissionID)
	return err
}

func (s *permissionStore) GrantsForRole(ctx context.Context, roleID string) ([]auth.RolePermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id, permission_id, granted_at, is_active
		from role_permissions where role_id = $1
		order by granted_at
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RolePermission
	for rows.Next() {
		var rp auth.RolePermission
		if err := rows.Scan(&rp.RoleID, &rp.PermissionID, &rp.GrantedAt, &rp.IsActive); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

func (s *permissionStore) ActiveGrantCount(ctx context.Context, permissionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from role_permissions where permission_id = $1 and is_active
	`, permissionID).Scan(&n)
	return n, err
}
