package identity

import (
	"context"
	"strings"
	"time"

	"github.com/plap9/saas/cmd/identity/ids"
)

// CreateUserInput describes a new account. PasswordHash is already hashed;
// stores never see plaintext passwords.
type CreateUserInput struct {
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          Role
	Status        Status
	IsActive      bool
	EmailVerified bool
	Now           time.Time
}

// Store is the user persistence boundary consumed by authentication.
//
// Lookups return NotFoundError when no row matches. Create returns
// ConflictError{Field: "email"} when the normalized email is taken.
type Store interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, in CreateUserInput) (User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// newUser validates in and builds the row every store persists.
func newUser(op string, in CreateUserInput) (User, error) {
	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" || !strings.Contains(norm, "@") {
		return User{}, invalid(op, "valid email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	status := in.Status
	if status == "" {
		status = StatusActive
	}

	return User{
		ID:            id,
		Email:         email,
		EmailNorm:     norm,
		PasswordHash:  in.PasswordHash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Role:          role,
		Status:        status,
		IsActive:      in.IsActive,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
