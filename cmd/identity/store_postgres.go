package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plap9/saas/cmd/internal/dbx"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	db     dbx.DBTX
	schema string
	users  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema holding the users table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !dbx.ValidIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. db is usually a *pgxpool.Pool.
func NewPostgresStore(db dbx.DBTX, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}

	users, err := dbx.Table(st.schema, "users")
	if err != nil {
		return nil, err
	}
	st.users = users
	return st, nil
}

const userColumns = `
	id, email, email_norm, password_hash,
	first_name, last_name, role, status,
	is_active, email_verified, last_login_at, created_at, updated_at`

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "identity.FindByEmail", `email_norm = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "identity.FindByID", `id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) findOne(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	var u User
	var role, status string
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users+` WHERE `+where,
		arg,
	).Scan(
		&u.ID, &u.Email, &u.EmailNorm, &u.PasswordHash,
		&u.FirstName, &u.LastName, &role, &status,
		&u.IsActive, &u.EmailVerified, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.Role = Role(role)
	u.Status = Status(status)
	return u, nil
}

func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	u, err := newUser(op, in)
	if err != nil {
		return User{}, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.users+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $11, $11)`,
		u.ID, u.Email, u.EmailNorm, u.PasswordHash,
		u.FirstName, u.LastName, string(u.Role), string(u.Status),
		u.IsActive, u.EmailVerified, u.CreatedAt,
	)
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: conflictField(constraint)}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const op = "identity.UpdateLastLogin"

	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.users+` SET last_login_at = $2, updated_at = $2 WHERE id = $1`,
		id, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// conflictField prefers stable constraint names and falls back to substring matching.
func conflictField(constraint string) string {
	switch {
	case constraint == "uq_users_email_norm", strings.Contains(constraint, "email"):
		return "email"
	case strings.Contains(constraint, "pkey"):
		return "id"
	default:
		return "unique"
	}
}
