package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plap9/saas/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byHash map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Record),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		id, err := ids.NewULID(rec.CreatedAt)
		if err != nil {
			return Record{}, err
		}
		rec.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.TokenHash]; ok {
		return Record{}, ErrDuplicateToken
	}
	if _, ok := s.byID[rec.ID]; ok {
		return Record{}, ErrDuplicateToken
	}
	stored := cloneRecord(rec)
	s.byID[rec.ID] = &stored
	s.byHash[rec.TokenHash] = rec.ID
	return cloneRecord(stored), nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return cloneRecord(*s.byID[id]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return cloneRecord(*rec), nil
}

func (s *MemoryStore) RevokeByHash(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	return revokeLocked(s.byID[id], now, reason), nil
}

func (s *MemoryStore) RevokeByID(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	return revokeLocked(rec, now, reason), nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.byID {
		if rec.UserID == userID && revokeLocked(rec, now, reason) {
			n++
		}
	}
	return n, nil
}

func revokeLocked(rec *Record, now time.Time, reason string) bool {
	if rec.RevokedAt != nil {
		return false
	}
	at := now.UTC()
	rec.RevokedAt = &at
	rec.RevocationReason = reason
	return true
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, now time.Time, f Filter, p Page) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = p.normalized()

	s.mu.Lock()
	var out []Record
	for _, rec := range s.byID {
		if rec.UserID != userID {
			continue
		}
		if f.IsExpired != nil && rec.IsExpired(now) != *f.IsExpired {
			continue
		}
		if f.IsRevoked != nil && rec.IsRevoked() != *f.IsRevoked {
			continue
		}
		out = append(out, cloneRecord(*rec))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) > 0
	})

	if p.Offset >= len(out) {
		return []Record{}, nil
	}
	out = out[p.Offset:]
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountForUser(ctx context.Context, userID string, now time.Time) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, rec := range s.byID {
		if rec.UserID != userID {
			continue
		}
		st.Total++
		if rec.IsExpired(now) {
			st.Expired++
		}
		if rec.IsRevoked() {
			st.Revoked++
		}
		if rec.IsValid(now) {
			st.Valid++
		}
	}
	return st, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error) {
	if err := ctx.Err(); err != nil {
		return CleanupResult{}, err
	}
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var res CleanupResult
	for id, rec := range s.byID {
		if rec.ExpiresAt.Before(now) {
			s.deleteLocked(id, rec)
			res.ExpiredDeleted++
		}
	}
	for id, rec := range s.byID {
		if rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff) {
			s.deleteLocked(id, rec)
			res.OldRevokedDeleted++
		}
	}
	return res, nil
}

func (s *MemoryStore) deleteLocked(id string, rec *Record) {
	delete(s.byHash, rec.TokenHash)
	delete(s.byID, id)
}

func cloneRecord(r Record) Record {
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		r.RevokedAt = &at
	}
	return r
}
