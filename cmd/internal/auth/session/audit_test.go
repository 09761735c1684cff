package session

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresAuditor_Record(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	a, err := NewPostgresAuditor(mock, "")
	if err != nil {
		t.Fatalf("NewPostgresAuditor: %v", err)
	}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."auth_audit_log"`)).
		WithArgs(AuditRevokeAll, "u1", nil, "", nil, pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = a.Record(context.Background(), AuditEvent{
		Action: AuditRevokeAll,
		UserID: "u1",
		Meta:   map[string]any{"revoked": 2},
		At:     at,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Blank actions are dropped without touching the database.
	if err := a.Record(context.Background(), AuditEvent{Action: "  "}); err != nil {
		t.Fatalf("Record blank: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewPostgresAuditor_RejectsBadSchema(t *testing.T) {
	if _, err := NewPostgresAuditor(nil, "bad schema"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.login("success")
	m.register("success")
	m.refresh("denied")
	m.reuse()
	m.revoked(ReasonRotated, 1)
	m.storeFailure("create")
	m.cleaned(CleanupResult{ExpiredDeleted: 1})
	m.observeStore("create", 0.01)
}
