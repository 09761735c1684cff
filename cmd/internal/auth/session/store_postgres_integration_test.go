package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plap9/saas/cmd/identity"
)

// Integration tests are opt-in and require SAAS_DATABASE_URL with migrations applied.

func TestPostgresStore_Integration_Lifecycle(t *testing.T) {
	dbURL := os.Getenv("SAAS_DATABASE_URL")
	if dbURL == "" {
		t.Skip("SAAS_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	email := "session-it-" + time.Now().UTC().Format("20060102150405.000000000") + "@example.com"
	u, err := users.Create(ctx, identity.CreateUserInput{Email: email, PasswordHash: "hash", IsActive: true, EmailVerified: true})
	if err != nil {
		t.Fatalf("users.Create: %v", err)
	}
	// refresh_tokens rows cascade with the user.
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, u.ID) })

	s, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec, err := s.Create(ctx, Record{
		UserID:    u.ID,
		TokenHash: "it-hash-" + u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IPAddress: "2001:db8::1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.FindByHash(ctx, rec.TokenHash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if got.ID != rec.ID || got.IPAddress != "2001:db8::1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.Create(ctx, rec); err == nil {
		t.Fatalf("expected duplicate error")
	}

	ok, err := s.RevokeByHash(ctx, rec.TokenHash, now, ReasonLogout)
	if err != nil || !ok {
		t.Fatalf("RevokeByHash: ok=%v err=%v", ok, err)
	}
	ok, err = s.RevokeByHash(ctx, rec.TokenHash, now, ReasonLogout)
	if err != nil || ok {
		t.Fatalf("second RevokeByHash: ok=%v err=%v", ok, err)
	}

	st, err := s.CountForUser(ctx, u.ID, now)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if st.Total != 1 || st.Revoked != 1 || st.Valid != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
