package session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	s, err := NewPostgresStore(mock, WithSchema("auth"))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s, mock
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	if _, err := NewPostgresStore(mock, WithSchema("auth; DROP")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil db error")
	}
}

func validRecord() Record {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return Record{
		UserID:    "u1",
		TokenHash: "h1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		UserAgent: "ua",
		IPAddress: "192.0.2.1",
	}
}

func TestPostgresStore_CreateAssignsID(t *testing.T) {
	s, mock := newMockStore(t)
	rec := validRecord()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "auth"."refresh_tokens"`)).
		WithArgs(pgxmock.AnyArg(), "u1", "h1", rec.ExpiresAt, pgxmock.AnyArg(), "192.0.2.1", pgxmock.AnyArg(), rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	got, err := s.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(got.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// anyArgs matches n positional arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_CreateMapsConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "uq_refresh_tokens_token_hash"}, ErrDuplicateToken},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "fk_refresh_tokens_user"}, ErrInvalidRecord},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "ck_refresh_tokens_expiry"}, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "auth"."refresh_tokens"`)).
				WithArgs(anyArgs(8)...).
				WillReturnError(tt.err)

			_, err := s.Create(context.Background(), validRecord())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_CreateRejectsInvalidBeforeQuery(t *testing.T) {
	s, mock := newMockStore(t)
	rec := validRecord()
	rec.ExpiresAt = rec.CreatedAt

	if _, err := s.Create(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_FindByHash(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "token_hash", "expires_at", "revoked_at",
		"revocation_reason", "user_agent", "ip_address", "device_fingerprint", "created_at",
	}).AddRow("s1", "u1", "h1", created.Add(time.Hour), nil, "", "ua", "192.0.2.1", "", created)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "auth"."refresh_tokens" WHERE token_hash = $1`)).
		WithArgs("h1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "auth"."refresh_tokens" WHERE token_hash = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.FindByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if got.ID != "s1" || got.IPAddress != "192.0.2.1" || got.RevokedAt != nil {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.FindByHash(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := s.FindByHash(context.Background(), ""); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for empty hash, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_RevokeIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)

	q := regexp.QuoteMeta(`WHERE token_hash = $1 AND revoked_at IS NULL`)
	mock.ExpectExec(q).WithArgs("h1", at, ReasonRotated).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q).WithArgs("h1", at, ReasonRotated).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.RevokeByHash(context.Background(), "h1", at, ReasonRotated)
	if err != nil || !ok {
		t.Fatalf("first revoke: ok=%v err=%v", ok, err)
	}
	ok, err = s.RevokeByHash(context.Background(), "h1", at, ReasonRotated)
	if err != nil || ok {
		t.Fatalf("second revoke: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_RevokeAllForUserReturnsRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE user_id = $1 AND revoked_at IS NULL`)).
		WithArgs("u1", at, ReasonRevokeAll).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.RevokeAllForUser(context.Background(), "u1", at, ReasonRevokeAll)
	if err != nil || n != 3 {
		t.Fatalf("RevokeAllForUser = %d, %v", n, err)
	}
}

func TestPostgresStore_ListForUserBuildsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	no := false

	cols := []string{
		"id", "user_id", "token_hash", "expires_at", "revoked_at",
		"revocation_reason", "user_agent", "ip_address", "device_fingerprint", "created_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1 AND expires_at >= $2 AND revoked_at IS NULL`)).
		WithArgs("u1", now, 10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("s2", "u1", "h2", now.Add(time.Hour), nil, "", "", "", "", now).
			AddRow("s1", "u1", "h1", now.Add(time.Hour), nil, "", "", "", "", now.Add(-time.Minute)))

	got, err := s.ListForUser(context.Background(), "u1", now, Filter{IsExpired: &no, IsRevoked: &no}, Page{})
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s2" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListWhere(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	yes := true

	where, args := listWhere("u1", now, Filter{})
	if where != "user_id = $1" || len(args) != 1 {
		t.Fatalf("unexpected where %q %v", where, args)
	}

	where, args = listWhere("u1", now, Filter{IsExpired: &yes, IsRevoked: &yes})
	if where != "user_id = $1 AND expires_at < $2 AND revoked_at IS NOT NULL" || len(args) != 2 {
		t.Fatalf("unexpected where %q %v", where, args)
	}
}

func TestPostgresStore_Cleanup(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "auth"."refresh_tokens" WHERE expires_at < $1`)).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE revoked_at IS NOT NULL AND revoked_at < $1`)).
		WithArgs(now.Add(-30 * 24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	res, err := s.Cleanup(context.Background(), now, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res != (CleanupResult{ExpiredDeleted: 4, OldRevokedDeleted: 2}) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_CleanupReportsPartialProgress(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("connection reset")

	mock.ExpectExec(regexp.QuoteMeta(`WHERE expires_at < $1`)).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE revoked_at IS NOT NULL`)).
		WithArgs(now.Add(-time.Hour)).
		WillReturnError(boom)

	res, err := s.Cleanup(context.Background(), now, time.Hour)
	if !errors.Is(err, boom) || res != (CleanupResult{ExpiredDeleted: 1}) {
		t.Fatalf("Cleanup = %+v, %v", res, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_CountForUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FILTER (WHERE revoked_at IS NULL AND expires_at >= $2)`)).
		WithArgs("u1", now).
		WillReturnRows(pgxmock.NewRows([]string{"total", "valid", "expired", "revoked"}).
			AddRow(int64(5), int64(2), int64(1), int64(2)))

	st, err := s.CountForUser(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if st != (Stats{Total: 5, Valid: 2, Expired: 1, Revoked: 2}) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
