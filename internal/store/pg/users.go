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

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, phone, password_hash, first_name, last_name,
	is_active, email_verified, phone_verified, last_login_at, created_at, updated_at`

var userSortColumns = map[string]string{
	"email":      "email",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_name":  "last_name",
}

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u         auth.User
		phone     sql.NullString
		firstName sql.NullString
		lastName  sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &u.PasswordHash, &firstName, &lastName,
		&u.IsActive, &u.EmailVerified, &u.PhoneVerified, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Phone = stringOr(phone)
	u.FirstName = stringOr(firstName)
	u.LastName = stringOr(lastName)
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, phone, password_hash, first_name, last_name,
			is_active, email_verified, phone_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Email, nullIfEmpty(u.Phone), u.PasswordHash, nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName),
		u.IsActive, u.EmailVerified, u.PhoneVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, strings.ToLower(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByPhone(ctx context.Context, phone string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where phone = $1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmailOrPhone(ctx context.Context, login string) (*auth.User, error) {
	if strings.Contains(login, "@") {
		return s.FindByEmail(ctx, login)
	}
	return s.FindByPhone(ctx, login)
}

func (s *userStore) List(ctx context.Context, p auth.ListParams) ([]*auth.User, int, error) {
	where := []string{"true"}
	args := []any{}
	idx := 1
	if search := strings.TrimSpace(p.Search); search != "" {
		where = append(where, fmt.Sprintf(
			"(email ilike $%d or first_name ilike $%d or last_name ilike $%d)", idx, idx, idx))
		args = append(args, "%"+search+"%")
		idx++
	}
	if p.ActiveOnly {
		where = append(where, "is_active")
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from users where `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`select %s from users where %s order by %s %s limit $%d offset $%d`,
		userColumns, cond, sortColumn(p.SortBy, userSortColumns), sortDirection(p.SortDesc), idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = $2, phone = $3, password_hash = $4, first_name = $5, last_name = $6,
			is_active = $7, email_verified = $8, phone_verified = $9, updated_at = $10
		where id = $1
	`, u.ID, u.Email, nullIfEmpty(u.Phone), u.PasswordHash, nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName),
		u.IsActive, u.EmailVerified, u.PhoneVerified, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) EmailExists(ctx context.Context, email, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from users where email = $1 and id <> $2)
	`, strings.ToLower(email), excludeID).Scan(&exists)
	return exists, err
}

func (s *userStore) PhoneExists(ctx context.Context, phone, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from users where phone = $1 and id <> $2)
	`, phone, excludeID).Scan(&exists)
	return exists, err
}

func (s *userStore) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set is_active = $2, updated_at = $3 where id = $1`, id, active, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
