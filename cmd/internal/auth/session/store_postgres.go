package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plap9/saas/cmd/identity/ids"
	"github.com/plap9/saas/cmd/internal/dbx"
)

// PostgresStore implements Store over the refresh_tokens table.
//
// The pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	db     dbx.DBTX
	schema string
	table  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding refresh_tokens (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !dbx.ValidIdent(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
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
		return nil, fmt.Errorf("session: nil db")
	}

	table, err := dbx.Table(st.schema, "refresh_tokens")
	if err != nil {
		return nil, err
	}
	st.table = table
	return st, nil
}

const recordColumns = `
	id, user_id, token_hash, expires_at, revoked_at,
	COALESCE(revocation_reason, ''), COALESCE(user_agent, ''),
	COALESCE(host(ip_address), ''), COALESCE(device_fingerprint, ''), created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID, &r.UserID, &r.TokenHash, &r.ExpiresAt, &r.RevokedAt,
		&r.RevocationReason, &r.UserAgent,
		&r.IPAddress, &r.DeviceFingerprint, &r.CreatedAt,
	)
	return r, err
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	const op = "session.Create"

	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		id, err := ids.NewULID(rec.CreatedAt)
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", op, err)
		}
		rec.ID = id
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	_, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table+` (
			id, user_id, token_hash, expires_at, revoked_at, revocation_reason,
			user_agent, ip_address, device_fingerprint, created_at
		) VALUES (
			$1, $2, $3, $4, NULL, NULL,
			$5, NULLIF($6::text, '')::inet, $7, $8
		)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.ExpiresAt,
		dbx.NullIfEmpty(rec.UserAgent), rec.IPAddress, dbx.NullIfEmpty(rec.DeviceFingerprint), rec.CreatedAt,
	)
	if err != nil {
		return Record{}, mapWriteError(op, err)
	}
	return rec, nil
}

func mapWriteError(op string, err error) error {
	if _, ok := dbx.UniqueViolation(err); ok {
		return fmt.Errorf("%s: %w", op, ErrDuplicateToken)
	}
	if dbx.IsForeignKeyViolation(err) || dbx.IsCheckViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidRecord, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) FindByHash(ctx context.Context, tokenHash string) (Record, error) {
	return s.findOne(ctx, "session.FindByHash", `token_hash = $1`, tokenHash)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Record, error) {
	return s.findOne(ctx, "session.FindByID", `id = $1`, id)
}

func (s *PostgresStore) findOne(ctx context.Context, op, where, arg string) (Record, error) {
	if strings.TrimSpace(arg) == "" {
		return Record{}, ErrRecordNotFound
	}
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE `+where,
		arg,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *PostgresStore) RevokeByHash(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error) {
	return s.revokeOne(ctx, "session.RevokeByHash", `token_hash = $1`, tokenHash, now, reason)
}

func (s *PostgresStore) RevokeByID(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	return s.revokeOne(ctx, "session.RevokeByID", `id = $1`, id, now, reason)
}

// revokeOne is a single conditional UPDATE; of two concurrent callers exactly
// one observes RowsAffected == 1.
func (s *PostgresStore) revokeOne(ctx context.Context, op, where, arg string, now time.Time, reason string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.table+`
		 SET revoked_at = $2, revocation_reason = $3
		 WHERE `+where+` AND revoked_at IS NULL`,
		arg, now.UTC(), reason,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.table+`
		 SET revoked_at = $2, revocation_reason = $3
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now.UTC(), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("session.RevokeAllForUser: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, now time.Time, f Filter, p Page) ([]Record, error) {
	const op = "session.ListForUser"

	p = p.normalized()
	where, args := listWhere(userID, now, f)
	args = append(args, p.Limit, p.Offset)
	n := len(args)

	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+`
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT $`+strconv.Itoa(n-1)+` OFFSET $`+strconv.Itoa(n),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Record, 0, p.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func listWhere(userID string, now time.Time, f Filter) (string, []any) {
	clauses := []string{"user_id = $1"}
	args := []any{userID}
	if f.IsExpired != nil {
		args = append(args, now.UTC())
		if *f.IsExpired {
			clauses = append(clauses, "expires_at < $"+strconv.Itoa(len(args)))
		} else {
			clauses = append(clauses, "expires_at >= $"+strconv.Itoa(len(args)))
		}
	}
	if f.IsRevoked != nil {
		if *f.IsRevoked {
			clauses = append(clauses, "revoked_at IS NOT NULL")
		} else {
			clauses = append(clauses, "revoked_at IS NULL")
		}
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) CountForUser(ctx context.Context, userID string, now time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx,
		`SELECT
			count(*),
			count(*) FILTER (WHERE revoked_at IS NULL AND expires_at >= $2),
			count(*) FILTER (WHERE expires_at < $2),
			count(*) FILTER (WHERE revoked_at IS NOT NULL)
		 FROM `+s.table+`
		 WHERE user_id = $1`,
		userID, now.UTC(),
	).Scan(&st.Total, &st.Valid, &st.Expired, &st.Revoked)
	if err != nil {
		return Stats{}, fmt.Errorf("session.CountForUser: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error) {
	const op = "session.Cleanup"

	var res CleanupResult
	tag, err := s.db.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE expires_at < $1`,
		now.UTC(),
	)
	if err != nil {
		return res, fmt.Errorf("%s: expired: %w", op, err)
	}
	res.ExpiredDeleted = tag.RowsAffected()

	tag, err = s.db.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE revoked_at IS NOT NULL AND revoked_at < $1`,
		now.Add(-retention).UTC(),
	)
	if err != nil {
		return res, fmt.Errorf("%s: revoked: %w", op, err)
	}
	res.OldRevokedDeleted = tag.RowsAffected()
	return res, nil
}
