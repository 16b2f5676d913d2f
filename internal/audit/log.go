// Package audit emits structured audit records for security-relevant
// operations: credential changes, role grants, account state flips.
// Records share the request id and caller identity carried in the
// request context.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier so later audit records
// can be correlated with the HTTP access log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the attached request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

type record struct {
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// LogEvent writes one audit record enriched with the request id and acting
// user from ctx. The fields map is copied before marshaling.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit event name is empty")
	}

	rec := record{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if id, ok := auth.UserIDFromContext(ctx); ok {
		rec.UserID = id
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
