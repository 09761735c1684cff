// Package dbx holds the small pgx abstractions shared by the Postgres stores:
// a DBTX interface satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools,
// identifier quoting, and SQLSTATE classification.
package dbx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by the stores.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain PostgreSQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Table quotes a schema-qualified table name: "schema"."name".
func Table(schema, name string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidIdent(schema) || !ValidIdent(name) {
		return "", fmt.Errorf("dbx: invalid identifier %q.%q", schema, name)
	}
	return pgx.Identifier{schema, name}.Sanitize(), nil
}

// UniqueViolation returns the violated constraint name for SQLSTATE 23505.
func UniqueViolation(err error) (constraint string, ok bool) {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != codeUniqueViolation {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// IsForeignKeyViolation reports SQLSTATE 23503.
func IsForeignKeyViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == codeForeignKeyViolation
}

// IsCheckViolation reports SQLSTATE 23514.
func IsCheckViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == codeCheckViolation
}

// NullIfEmpty maps "" to SQL NULL.
func NullIfEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	return pgErr, true
}
