// Package pg is the PostgreSQL persistence layer behind the auth store
// contracts. It uses database/sql over the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authgrid.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store owns the connection pool and hands out the per-entity stores.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() auth.UserStore                 { return &userStore{db: s.db} }
func (s *Store) Roles() auth.RoleStore                 { return &roleStore{db: s.db} }
func (s *Store) Permissions() auth.PermissionStore     { return &permissionStore{db: s.db} }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return &tokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError translates constraint violations into the domain sentinels.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringOr(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

// sortColumn whitelists sort keys; anything else falls back to created_at
// so request input never reaches the query text.
func sortColumn(requested string, allowed map[string]string) string {
	if col, ok := allowed[strings.ToLower(strings.TrimSpace(requested))]; ok {
		return col
	}
	return "created_at"
}

func sortDirection(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}
