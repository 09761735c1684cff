package session

import (
	"context"
	"time"
)

// Store persists refresh-token records.
//
// Implementations must make revocation a single conditional update on
// revoked_at IS NULL so concurrent revokes of the same row never both
// succeed, and must enforce tokenHash uniqueness on Create.
type Store interface {
	// Create inserts rec, assigning an ID when empty. Duplicate hashes fail
	// with ErrDuplicateToken; invariant violations with ErrInvalidRecord.
	Create(ctx context.Context, rec Record) (Record, error)

	// FindByHash and FindByID return ErrRecordNotFound when absent.
	FindByHash(ctx context.Context, tokenHash string) (Record, error)
	FindByID(ctx context.Context, id string) (Record, error)

	// RevokeByHash and RevokeByID report true only when this call revoked
	// a previously unrevoked row.
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error)
	RevokeByID(ctx context.Context, id string, now time.Time, reason string) (bool, error)

	// RevokeAllForUser revokes every unrevoked row of userID and returns how many.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason string) (int64, error)

	// ListForUser returns records newest first.
	ListForUser(ctx context.Context, userID string, now time.Time, f Filter, p Page) ([]Record, error)

	// CountForUser summarises a user's records at now.
	CountForUser(ctx context.Context, userID string, now time.Time) (Stats, error)

	// Cleanup deletes rows expired before now and revoked rows whose
	// revocation is older than retention. It is the only hard delete.
	Cleanup(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error)
}
