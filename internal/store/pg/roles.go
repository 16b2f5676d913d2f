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

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, description, is_active, created_at, updated_at`

var roleSortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func scanRole(row interface{ Scan(...any) error }) (*auth.Role, error) {
	var (
		r    auth.Role
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = stringOr(desc)
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, r *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Name, nullIfEmpty(r.Description), r.IsActive, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return r, err
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where lower(name) = lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return r, err
}

func (s *roleStore) List(ctx context.Context, p auth.ListParams) ([]*auth.Role, int, error) {
	where := []string{"true"}
	args := []any{}
	idx := 1
	if search := strings.TrimSpace(p.Search); search != "" {
		where = append(where, fmt.Sprintf("(name ilike $%d or description ilike $%d)", idx, idx))
		args = append(args, "%"+search+"%")
		idx++
	}
	if p.ActiveOnly {
		where = append(where, "is_active")
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from roles where `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`select %s from roles where %s order by %s %s limit $%d offset $%d`,
		roleColumns, cond, sortColumn(p.SortBy, roleSortColumns), sortDirection(p.SortDesc), idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *roleStore) Update(ctx context.Context, r *auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set name = $2, description = $3, is_active = $4, updated_at = $5
		where id = $1
	`, r.ID, r.Name, nullIfEmpty(r.Description), r.IsActive, r.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *roleStore) NameExists(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from roles where lower(name) = lower($1) and id <> $2)
	`, name, excludeID).Scan(&exists)
	return exists, err
}

func (s *roleStore) SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update roles set is_active = $2, updated_at = $3 where id = $1`, id, active, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Assign inserts the assignment or reactivates a prior soft-deactivated
// row. The partial unique index on active (user_id, role_id) pairs keeps
// concurrent assigns from producing two active rows; hitting it means the
// assignment already exists, which is a no-op.
func (s *roleStore) Assign(ctx context.Context, ur auth.UserRole) error {
	res, err := s.db.ExecContext(ctx, `
		update user_roles set is_active = true, assigned_at = $3, expires_at = $4
		where user_id = $1 and role_id = $2 and not is_active
	`, ur.UserID, ur.RoleID, ur.AssignedAt, nullTime(ur.ExpiresAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_at, expires_at, is_active)
		values ($1, $2, $3, $4, $5)
	`, ur.UserID, ur.RoleID, ur.AssignedAt, nullTime(ur.ExpiresAt), ur.IsActive)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil
		}
		return mapWriteError(err)
	}
	return nil
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		update user_roles set is_active = false
		where user_id = $1 and role_id = $2 and is_active
	`, userID, roleID)
	return err
}

func (s *roleStore) AssignmentsForUser(ctx context.Context, userID string) ([]auth.UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, assigned_at, expires_at, is_active
		from user_roles where user_id = $1
		order by assigned_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.UserRole
	for rows.Next() {
		var (
			ur      auth.UserRole
			expires sql.NullTime
		)
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.AssignedAt, &expires, &ur.IsActive); err != nil {
			return nil, err
		}
		ur.ExpiresAt = timePtr(expires)
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *roleStore) ActiveAssignmentCount(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from user_roles
		where role_id = $1 and is_active and (expires_at is null or expires_at > now())
	`, roleID).Scan(&n)
	return n, err
}
