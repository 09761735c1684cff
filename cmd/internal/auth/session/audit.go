package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/plap9/saas/cmd/internal/dbx"
)

// Audit actions.
const (
	AuditLoginSuccess     = "auth.login.success"
	AuditLoginFailed      = "auth.login.failed"
	AuditRegister         = "auth.register"
	AuditRefreshSuccess   = "auth.refresh.success"
	AuditRefreshReuse     = "auth.refresh.reuse_detected"
	AuditLogout           = "auth.logout"
	AuditRevokeAll        = "auth.revoke_all"
	AuditSessionRevoked   = "auth.session.revoked"
	AuditCleanupCompleted = "auth.cleanup.completed"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	Device    DeviceContext
	Meta      map[string]any
	At        time.Time
}

// Auditor records audit events. Implementations must not block the caller
// for long; failures are reported but never change an operation's outcome.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// NopAuditor discards events.
type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEvent) error { return nil }

// PostgresAuditor appends events to auth_audit_log.
type PostgresAuditor struct {
	db    dbx.DBTX
	table string
}

// NewPostgresAuditor writes to schema.auth_audit_log.
func NewPostgresAuditor(db dbx.DBTX, schema string) (*PostgresAuditor, error) {
	if schema == "" {
		schema = "public"
	}
	table, err := dbx.Table(schema, "auth_audit_log")
	if err != nil {
		return nil, err
	}
	return &PostgresAuditor{db: db, table: table}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) error {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return nil
	}

	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}

	_, err := a.db.Exec(ctx,
		`INSERT INTO `+a.table+` (
			action, user_id, session_id, ip_address, user_agent, meta, created_at
		) VALUES ($1, $2, $3, NULLIF($4::text, '')::inet, $5, $6::jsonb, $7)`,
		action, dbx.NullIfEmpty(ev.UserID), dbx.NullIfEmpty(ev.SessionID),
		ev.Device.IPAddress, dbx.NullIfEmpty(ev.Device.UserAgent), meta, ev.At.UTC(),
	)
	return err
}

func (s *Service) audit(ctx context.Context, ev AuditEvent) {
	if s.auditor == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.log.Error("auth.audit.insert.fail", slog.String("action", ev.Action), slog.Any("err", err))
	}
}
