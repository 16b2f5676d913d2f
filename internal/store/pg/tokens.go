package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgrid.org/internal/auth"
)

type tokenStore struct {
	db *sql.DB
}

const tokenColumns = `id, user_id, token, device_id, device_name, created_at,
	created_by_ip, user_agent, expires_at, used_at, revoked_at, revoked_by_ip, replaced_by_token`

func scanToken(row interface{ Scan(...any) error }) (*auth.RefreshToken, error) {
	var (
		t          auth.RefreshToken
		deviceName sql.NullString
		createdIP  sql.NullString
		userAgent  sql.NullString
		usedAt     sql.NullTime
		revokedAt  sql.NullTime
		revokedIP  sql.NullString
		replacedBy sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.DeviceID, &deviceName, &t.CreatedAt,
		&createdIP, &userAgent, &t.ExpiresAt, &usedAt, &revokedAt, &revokedIP, &replacedBy)
	if err != nil {
		return nil, err
	}
	t.DeviceName = stringOr(deviceName)
	t.CreatedByIP = stringOr(createdIP)
	t.UserAgent = stringOr(userAgent)
	t.UsedAt = timePtr(usedAt)
	t.RevokedAt = timePtr(revokedAt)
	t.RevokedByIP = stringOr(revokedIP)
	t.ReplacedByToken = stringOr(replacedBy)
	return &t, nil
}

func (s *tokenStore) Create(ctx context.Context, t *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token, device_id, device_name, created_at,
			created_by_ip, user_agent, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.UserID, t.Token, t.DeviceID, nullIfEmpty(t.DeviceName), t.CreatedAt,
		nullIfEmpty(t.CreatedByIP), nullIfEmpty(t.UserAgent), t.ExpiresAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *tokenStore) FindByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from refresh_tokens where token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return t, err
}

func (s *tokenStore) ListByUser(ctx context.Context, userID string) ([]*auth.RefreshToken, error) {
	return s.list(ctx,
		`select `+tokenColumns+` from refresh_tokens where user_id = $1 order by created_at desc`,
		userID)
}

func (s *tokenStore) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*auth.RefreshToken, error) {
	return s.list(ctx, `
		select `+tokenColumns+` from refresh_tokens
		where user_id = $1 and revoked_at is null and expires_at > $2
		order by created_at desc
	`, userID, now)
}

func (s *tokenStore) list(ctx context.Context, query string, args ...any) ([]*auth.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *tokenStore) Update(ctx context.Context, t *auth.RefreshToken) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set device_name = $2, expires_at = $3, used_at = $4, revoked_at = $5,
			revoked_by_ip = $6, replaced_by_token = $7
		where id = $1
	`, t.ID, nullIfEmpty(t.DeviceName), t.ExpiresAt, nullTime(t.UsedAt), nullTime(t.RevokedAt),
		nullIfEmpty(t.RevokedByIP), nullIfEmpty(t.ReplacedByToken))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Revoke is the conditional write rotation depends on: the row is stamped
// only while still unrevoked, so of two concurrent rotations exactly one
// sees a row affected.
func (s *tokenStore) Revoke(ctx context.Context, token string, stamp auth.RevocationStamp) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2,
			revoked_by_ip = $3,
			replaced_by_token = $4,
			used_at = case when $5 then $2 else used_at end
		where token = $1 and revoked_at is null
	`, token, stamp.At, nullIfEmpty(stamp.IP), nullIfEmpty(stamp.ReplacedBy), stamp.MarkUsed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string, stamp auth.RevocationStamp) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_by_ip = $3
		where user_id = $1 and revoked_at is null and expires_at > $2
	`, userID, stamp.At, nullIfEmpty(stamp.IP))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *tokenStore) RevokeByDevice(ctx context.Context, userID, deviceID string, stamp auth.RevocationStamp) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $3, revoked_by_ip = $4
		where user_id = $1 and device_id = $2 and revoked_at is null and expires_at > $3
	`, userID, deviceID, stamp.At, nullIfEmpty(stamp.IP))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *tokenStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
