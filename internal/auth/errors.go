package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized covers every credential failure: unknown user, wrong
	// password, invalid or rotated refresh token, deactivated account. The
	// message is deliberately generic so callers cannot distinguish which
	// check failed.
	ErrUnauthorized = errors.New("invalid credentials")

	// ErrForbidden means the caller authenticated but lacks the required
	// permission or role.
	ErrForbidden = errors.New("forbidden")

	ErrConflict     = errors.New("resource conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal marks dependency failures that must surface as 5xx, never
	// as a normal forbidden verdict.
	ErrInternal = errors.New("internal error")

	// ErrInvalidToken indicates an access token failed signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid token")
)

// FieldErrors aggregates validation failures per field. All failing fields
// are collected before the error is returned, not just the first one.
type FieldErrors map[string][]string

func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

func (fe FieldErrors) Empty() bool { return len(fe) == 0 }

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(fe[f], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match field errors.
func (fe FieldErrors) Unwrap() error { return ErrInvalidInput }
