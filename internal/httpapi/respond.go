package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeFieldErrors renders per-field validation failures alongside the
// generic error message.
func writeFieldErrors(w http.ResponseWriter, r *http.Request, fe auth.FieldErrors) {
	payload := map[string]any{
		"error":  "validation failed",
		"fields": fe,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

// handleAuthError maps domain sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var fe auth.FieldErrors
	if errors.As(err, &fe) {
		writeFieldErrors(w, r, fe)
		return
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

// parseListParams reads the shared pagination and filtering query values.
func parseListParams(r *http.Request, defLimit, maxLimit int) (auth.ListParams, error) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), defLimit, 1, maxLimit)
	if err != nil {
		return auth.ListParams{}, err
	}
	offset := 0
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return auth.ListParams{}, errors.New("offset must be a non-negative integer")
		}
	}
	return auth.ListParams{
		Offset:     offset,
		Limit:      limit,
		Search:     strings.TrimSpace(q.Get("search")),
		ActiveOnly: q.Get("active_only") == "true",
		SortBy:     strings.TrimSpace(q.Get("sort")),
		SortDesc:   q.Get("desc") == "true",
	}, nil
}
