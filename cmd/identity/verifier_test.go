package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/plap9/saas/cmd/security/password"
)

func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func seedUser(t *testing.T, s *MemoryStore, pw password.Config, email, plain string, eligible bool) User {
	t.Helper()

	h, err := pw.Hash(plain)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u, err := s.Create(context.Background(), CreateUserInput{
		Email:         email,
		PasswordHash:  h,
		IsActive:      true,
		EmailVerified: eligible,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func TestVerifier_Success_RecordsLastLogin(t *testing.T) {
	store := NewMemoryStore()
	pw := fastPasswords()
	u := seedUser(t, store, pw, "alice@example.com", "Str0ng!Pass", true)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	v := NewVerifier(store, pw, WithVerifierClock(func() time.Time { return at }))

	got, ok, err := v.Verify(context.Background(), " Alice@Example.com", "Str0ng!Pass")
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, got.ID)
	}

	stored, err := store.FindByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(at) {
		t.Fatalf("expected last login recorded at %v, got %v", at, stored.LastLoginAt)
	}
}

func TestVerifier_DenialsAreIndistinguishable(t *testing.T) {
	store := NewMemoryStore()
	pw := fastPasswords()
	seedUser(t, store, pw, "alice@example.com", "Str0ng!Pass", true)
	unverified := seedUser(t, store, pw, "carol@example.com", "Str0ng!Pass", false)

	v := NewVerifier(store, pw)

	cases := []struct{ email, pw string }{
		{"alice@example.com", "wrong-password"},
		{"nobody@example.com", "Str0ng!Pass"},
		{"", "Str0ng!Pass"},
		{"alice@example.com", ""},
		{"carol@example.com", "Str0ng!Pass"},
	}
	for _, tc := range cases {
		u, ok, err := v.Verify(context.Background(), tc.email, tc.pw)
		if err != nil || ok || u.ID != "" {
			t.Fatalf("Verify(%q): expected silent denial, got ok=%v err=%v user=%q", tc.email, ok, err, u.ID)
		}
	}

	stored, _ := store.FindByID(context.Background(), unverified.ID)
	if stored.LastLoginAt != nil {
		t.Fatalf("ineligible user must not get a last-login timestamp")
	}
}

func TestVerifier_CorruptHashDenies(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Create(context.Background(), CreateUserInput{
		Email: "eve@example.com", PasswordHash: "garbage", IsActive: true, EmailVerified: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	v := NewVerifier(store, fastPasswords())
	_, ok, err := v.Verify(context.Background(), "eve@example.com", "anything")
	if err != nil || ok {
		t.Fatalf("expected denial, ok=%v err=%v", ok, err)
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) FindByEmail(context.Context, string) (User, error) { return User{}, f.err }

func TestVerifier_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	v := NewVerifier(failingStore{Store: NewMemoryStore(), err: boom}, fastPasswords())

	_, ok, err := v.Verify(context.Background(), "alice@example.com", "Str0ng!Pass")
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected store error, ok=%v err=%v", ok, err)
	}
}
