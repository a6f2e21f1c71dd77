// Package audit records security-relevant actions (signups, logins, role
// changes, connection decisions) as structured log entries.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"orgmesh.io/internal/auth"
)

// Logger writes audit entries through a zap core so they share the process
// log pipeline but stay greppable by type=audit.
type Logger struct {
	log *zap.SugaredLogger
}

// NewLogger wraps the given logger for audit output.
func NewLogger(log *zap.SugaredLogger) *Logger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Logger{log: log.With("type", "audit")}
}

// Event records one audit entry. Identity fields are pulled from the request
// context when present; extra pairs follow zap's key-value convention.
func (l *Logger) Event(ctx context.Context, event string, kv ...any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	fields := []any{"event", event}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		fields = append(fields, "user_id", claims.Subject, "organization_id", claims.OrganizationID)
	}
	fields = append(fields, kv...)
	l.log.Infow("audit", fields...)
	return nil
}
