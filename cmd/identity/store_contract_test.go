package identity

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormTestStore(t *testing.T) *GormStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db)
	if err := s.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"gorm":   func(t *testing.T) Store { return newGormTestStore(t) },
	}

	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("create and find", func(t *testing.T) { testCreateAndFind(t, mk(t)) })
			t.Run("duplicate email", func(t *testing.T) { testDuplicateEmail(t, mk(t)) })
			t.Run("invalid input", func(t *testing.T) { testInvalidInput(t, mk(t)) })
			t.Run("last login", func(t *testing.T) { testUpdateLastLogin(t, mk(t)) })
		})
	}
}

func testCreateAndFind(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	u, err := s.Create(ctx, CreateUserInput{
		Email:         " Alice@Example.com ",
		PasswordHash:  "$2b$04$hash",
		FirstName:     "Alice",
		IsActive:      true,
		EmailVerified: false,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" || u.EmailNorm != "alice@example.com" || u.Role != RoleUser || u.Status != StatusActive {
		t.Fatalf("unexpected created user: %+v", u)
	}

	byEmail, err := s.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if byEmail.ID != u.ID || byEmail.PasswordHash != "$2b$04$hash" {
		t.Fatalf("FindByEmail mismatch: %+v", byEmail)
	}
	if byEmail.EmailVerified {
		t.Fatalf("false booleans must round-trip")
	}

	byID, err := s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.Email != "Alice@Example.com" || !byID.CreatedAt.Equal(now) {
		t.Fatalf("FindByID mismatch: %+v", byID)
	}

	if _, err := s.FindByID(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.FindByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testDuplicateEmail(t *testing.T, s Store) {
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateUserInput{Email: "bob@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Create(ctx, CreateUserInput{Email: "BOB@example.com", PasswordHash: "h2"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func testInvalidInput(t *testing.T, s Store) {
	ctx := context.Background()

	for _, in := range []CreateUserInput{
		{Email: "", PasswordHash: "h"},
		{Email: "no-at-sign", PasswordHash: "h"},
		{Email: "c@example.com", PasswordHash: " "},
	} {
		if _, err := s.Create(ctx, in); !IsInvalidInput(err) {
			t.Fatalf("Create(%+v): expected invalid input, got %v", in, err)
		}
	}
}

func testUpdateLastLogin(t *testing.T, s Store) {
	ctx := context.Background()

	u, err := s.Create(ctx, CreateUserInput{Email: "dan@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := s.UpdateLastLogin(ctx, u.ID, at); err != nil {
		t.Fatalf("UpdateLastLogin: %v", err)
	}

	got, err := s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Fatalf("expected last login %v, got %v", at, got.LastLoginAt)
	}

	if err := s.UpdateLastLogin(ctx, "missing", at); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
