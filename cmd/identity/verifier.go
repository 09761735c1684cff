package identity

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// PasswordHasher is the password primitive the verifier depends on.
// password.Config satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// Verifier resolves an email and password into a User.
//
// Unknown email, wrong password, an unreadable stored hash and an account
// that cannot log in all yield (User{}, false, nil). Only store failures are
// returned as errors.
type Verifier struct {
	users     Store
	passwords PasswordHasher
	log       *slog.Logger
	now       func() time.Time

	// dummyHash is verified when the user is missing so both paths pay
	// the same hashing cost.
	dummyHash string
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger used for non-fatal failures.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithVerifierClock overrides the clock used for last-login timestamps.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier. It hashes a throwaway password once so
// missing-user lookups can burn equivalent time.
func NewVerifier(users Store, passwords PasswordHasher, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		users:     users,
		passwords: passwords,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if h, err := passwords.Hash("timing-equalizer-not-a-real-password"); err == nil {
		v.dummyHash = h
	} else {
		v.log.Warn("identity.verifier.dummy_hash_failed", "err", err)
	}
	return v
}

// Verify checks email and password. On success it records the login time
// on the user; a failed write is logged and does not fail the login.
func (v *Verifier) Verify(ctx context.Context, email, password string) (User, bool, error) {
	norm := NormalizeEmail(email)
	if norm == "" || password == "" {
		v.burn(password)
		return User{}, false, nil
	}

	u, err := v.users.FindByEmail(ctx, norm)
	if IsNotFound(err) {
		v.burn(password)
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}

	ok, err := v.passwords.Verify(u.PasswordHash, password)
	if err != nil {
		v.log.Warn("identity.verify.bad_hash", "user_id", u.ID, "err", err)
		return User{}, false, nil
	}
	if !ok || !u.CanLogin() {
		return User{}, false, nil
	}

	at := v.now().UTC()
	if err := v.users.UpdateLastLogin(ctx, u.ID, at); err != nil {
		v.log.Warn("identity.last_login.update_failed", "user_id", u.ID, "err", err)
	} else {
		u.LastLoginAt = &at
		u.UpdatedAt = at
	}
	return u, true, nil
}

func (v *Verifier) burn(password string) {
	if v.dummyHash != "" {
		_, _ = v.passwords.Verify(v.dummyHash, password)
	}
}
