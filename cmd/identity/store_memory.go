package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.FindByEmail", Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.FindByID", Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, err := newUser(op, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.EmailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = u
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.UpdateLastLogin", Resource: "user"}
	}
	at = at.UTC()
	u.LastLoginAt = &at
	u.UpdatedAt = at
	s.byID[id] = u
	return nil
}

// Update replaces a stored user. Admin flows use it to change status or
// verification; authentication never calls it.
func (s *MemoryStore) Update(ctx context.Context, u User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[u.ID]
	if !ok {
		return NotFoundError{Op: "identity.Update", Resource: "user"}
	}
	u.EmailNorm = NormalizeEmail(u.Email)
	if owner, taken := s.byEmail[u.EmailNorm]; taken && owner != u.ID {
		return ConflictError{Op: "identity.Update", Field: "email"}
	}
	delete(s.byEmail, old.EmailNorm)
	s.byID[u.ID] = u
	s.byEmail[u.EmailNorm] = u.ID
	return nil
}
