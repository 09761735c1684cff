package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/plap9/saas/cmd/identity"
	"github.com/plap9/saas/cmd/security/token"
)

// TokenHasher maps a raw refresh token to its store lookup key.
// token.Hasher satisfies it.
type TokenHasher interface {
	Hash(raw string) string
}

// UserDirectory is the user store surface the service needs.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	Create(ctx context.Context, in identity.CreateUserInput) (identity.User, error)
}

// CredentialVerifier resolves email and password into an eligible user.
// identity.Verifier satisfies it.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (identity.User, bool, error)
}

// PasswordHasher hashes new passwords. password.Config satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Deps are the collaborators of a Service. Codec and Tokens are optional:
// Codec defaults to NewCodec(cfg) and Tokens to plain SHA-256.
type Deps struct {
	Store       Store
	Codec       Codec
	Tokens      TokenHasher
	Users       UserDirectory
	Credentials CredentialVerifier
	Passwords   PasswordHasher
}

// AuthTokens is returned by every successful issuance.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// AuthResult is returned by Login and Register.
type AuthResult struct {
	User   identity.PublicUser `json:"user"`
	Tokens AuthTokens          `json:"tokens"`
}

// Profile is the registration input.
type Profile struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Service is the session manager. It keeps no state between calls; every
// validity decision is a fresh store lookup.
type Service struct {
	cfg         Config
	store       Store
	codec       Codec
	tokens      TokenHasher
	users       UserDirectory
	credentials CredentialVerifier
	passwords   PasswordHasher

	log     *slog.Logger
	metrics *Metrics
	auditor Auditor
	clock   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditor sets the audit sink. The default is NopAuditor.
func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewService validates cfg and wires the collaborators.
func NewService(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("session: nil store")
	case deps.Users == nil:
		return nil, errors.New("session: nil user directory")
	case deps.Credentials == nil:
		return nil, errors.New("session: nil credential verifier")
	case deps.Passwords == nil:
		return nil, errors.New("session: nil password hasher")
	}

	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		codec:       deps.Codec,
		tokens:      deps.Tokens,
		users:       deps.Users,
		credentials: deps.Credentials,
		passwords:   deps.Passwords,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		auditor:     NopAuditor{},
		clock:       time.Now,
	}
	if s.codec == nil {
		c, err := NewCodec(cfg)
		if err != nil {
			return nil, err
		}
		s.codec = c
	}
	if s.tokens == nil {
		s.tokens = token.Hasher{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// now is UTC at second precision, matching the resolution of token claims.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

// call runs fn under the store timeout and records its latency.
func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	return callWithin(ctx, s, op, s.cfg.StoreTimeout, fn)
}

// callWithin is call with an explicit budget. The caller's deadline still
// applies when it is shorter.
func callWithin[T any](ctx context.Context, s *Service, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	s.metrics.observeStore(op, time.Since(start).Seconds())
	return v, err
}

// unavailable wraps a store failure so it can never be mistaken for a denial.
func (s *Service) unavailable(ctx context.Context, op string, err error) error {
	s.metrics.storeFailure(op)
	s.log.LogAttrs(ctx, slog.LevelError, "auth.store.unavailable",
		slog.String("op", op),
		slog.Any("err", err),
	)
	return &InfrastructureError{Op: op, Err: err}
}

// Login verifies credentials and issues a token pair bound to dev.
func (s *Service) Login(ctx context.Context, email, password string, dev DeviceContext) (AuthResult, error) {
	dev = dev.normalized()

	v, err := call(ctx, s, "verify_credentials", func(ctx context.Context) (verified, error) {
		u, ok, err := s.credentials.Verify(ctx, email, password)
		return verified{u, ok}, err
	})
	if err != nil {
		s.metrics.login("error")
		return AuthResult{}, s.unavailable(ctx, "session.Login", err)
	}
	if !v.ok {
		s.metrics.login("denied")
		s.log.LogAttrs(ctx, slog.LevelInfo, "auth.login.failed", slog.String("ip", dev.IPAddress))
		s.audit(ctx, AuditEvent{
			Action: AuditLoginFailed,
			Device: dev,
			Meta:   map[string]any{"identifier": identity.NormalizeEmail(email)},
		})
		return AuthResult{}, ErrInvalidCredentials
	}
	u := v.User

	tokens, sessionID, err := s.issueTokenPair(ctx, u.ID, u.Email, dev)
	if err != nil {
		s.metrics.login("error")
		return AuthResult{}, err
	}

	s.metrics.login("success")
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.login.succeeded",
		slog.String("user_id", u.ID),
		slog.String("session_id", sessionID),
	)
	s.audit(ctx, AuditEvent{Action: AuditLoginSuccess, UserID: u.ID, SessionID: sessionID, Device: dev})
	return AuthResult{User: u.Public(), Tokens: tokens}, nil
}

type verified struct {
	identity.User
	ok bool
}

// Register creates the user and logs them in on the same device.
func (s *Service) Register(ctx context.Context, p Profile, dev DeviceContext) (AuthResult, error) {
	dev = dev.normalized()

	email := strings.TrimSpace(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		s.metrics.register("invalid")
		return AuthResult{}, fmt.Errorf("%w: email is required", ErrInvalidProfile)
	}
	hash, err := s.passwords.Hash(p.Password)
	if err != nil {
		s.metrics.register("invalid")
		return AuthResult{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	in := identity.CreateUserInput{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(p.FirstName),
		LastName:      strings.TrimSpace(p.LastName),
		Role:          identity.RoleUser,
		Status:        identity.StatusActive,
		IsActive:      true,
		EmailVerified: true,
		Now:           s.now(),
	}
	if s.cfg.RequireEmailVerification {
		in.Status = identity.StatusPendingVerification
		in.EmailVerified = false
	}

	u, err := call(ctx, s, "create_user", func(ctx context.Context) (identity.User, error) {
		return s.users.Create(ctx, in)
	})
	switch {
	case identity.IsConflict(err):
		s.metrics.register("duplicate")
		return AuthResult{}, ErrDuplicateEmail
	case identity.IsInvalidInput(err):
		s.metrics.register("invalid")
		return AuthResult{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	case err != nil:
		s.metrics.register("error")
		return AuthResult{}, s.unavailable(ctx, "session.Register", err)
	}

	tokens, sessionID, err := s.issueTokenPair(ctx, u.ID, u.Email, dev)
	if err != nil {
		s.metrics.register("error")
		return AuthResult{}, err
	}

	s.metrics.register("success")
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.register.succeeded",
		slog.String("user_id", u.ID),
		slog.String("session_id", sessionID),
	)
	s.audit(ctx, AuditEvent{Action: AuditRegister, UserID: u.ID, SessionID: sessionID, Device: dev})
	return AuthResult{User: u.Public(), Tokens: tokens}, nil
}

// issueTokenPair signs both tokens, then persists the refresh record.
// Tokens are returned only once the record exists. A duplicate hash is
// retried once with freshly signed tokens.
func (s *Service) issueTokenPair(ctx context.Context, userID, email string, dev DeviceContext) (AuthTokens, string, error) {
	const op = "session.issueTokenPair"

	p := Payload{UserID: userID, Email: email}
	for attempt := 0; ; attempt++ {
		now := s.now()

		access, err := s.codec.SignAccess(p, now, s.cfg.AccessTokenTTL)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "auth.token.signing_failed", slog.String("kind", string(KindAccess)), slog.Any("err", err))
			return AuthTokens{}, "", fmt.Errorf("%s: %w", op, err)
		}
		refresh, err := s.codec.SignRefresh(p, now, s.cfg.RefreshTokenTTL)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "auth.token.signing_failed", slog.String("kind", string(KindRefresh)), slog.Any("err", err))
			return AuthTokens{}, "", fmt.Errorf("%s: %w", op, err)
		}

		rec, err := call(ctx, s, "create", func(ctx context.Context) (Record, error) {
			return s.store.Create(ctx, Record{
				UserID:            userID,
				TokenHash:         s.tokens.Hash(refresh),
				ExpiresAt:         now.Add(s.cfg.RefreshTokenTTL),
				UserAgent:         dev.UserAgent,
				IPAddress:         dev.IPAddress,
				DeviceFingerprint: dev.DeviceFingerprint,
				CreatedAt:         now,
			})
		})
		if err == nil {
			return AuthTokens{
				AccessToken:  access,
				RefreshToken: refresh,
				ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
				TokenType:    TokenTypeBearer,
			}, rec.ID, nil
		}
		if errors.Is(err, ErrDuplicateToken) && attempt == 0 {
			s.log.LogAttrs(ctx, slog.LevelWarn, "auth.token.duplicate_hash", slog.String("user_id", userID))
			continue
		}
		return AuthTokens{}, "", s.unavailable(ctx, op, err)
	}
}

// Refresh exchanges a valid refresh token for a new pair and revokes the
// presented one. Every validity failure is ErrInvalidRefreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev DeviceContext) (AuthTokens, error) {
	const op = "session.Refresh"

	dev = dev.normalized()
	now := s.now()

	deny := func(reason string, attrs ...slog.Attr) (AuthTokens, error) {
		s.metrics.refresh("denied")
		attrs = append(attrs, slog.String("reason", reason))
		s.log.LogAttrs(ctx, slog.LevelInfo, "auth.refresh.failed", attrs...)
		return AuthTokens{}, ErrInvalidRefreshToken
	}
	fail := func(err error) (AuthTokens, error) {
		s.metrics.refresh("error")
		return AuthTokens{}, err
	}

	claims, err := s.codec.VerifyRefresh(refreshToken, now)
	if errors.Is(err, ErrSigning) {
		s.log.LogAttrs(ctx, slog.LevelError, "auth.token.signing_failed", slog.String("kind", string(KindRefresh)), slog.Any("err", err))
		return fail(fmt.Errorf("%s: %w", op, err))
	}
	if err != nil {
		return deny("token", slog.Any("err", err))
	}

	hash := s.tokens.Hash(refreshToken)
	rec, err := call(ctx, s, "find_by_hash", func(ctx context.Context) (Record, error) {
		return s.store.FindByHash(ctx, hash)
	})
	if errors.Is(err, ErrRecordNotFound) {
		return deny("unknown", slog.String("user_id", claims.Subject))
	}
	if err != nil {
		return fail(s.unavailable(ctx, op, err))
	}

	if rec.UserID != claims.Subject {
		return deny("subject_mismatch", slog.String("session_id", rec.ID))
	}
	if rec.IsRevoked() {
		s.reuseDetected(ctx, rec, dev)
		return deny("revoked", slog.String("session_id", rec.ID))
	}
	if rec.IsExpired(now) {
		return deny("expired", slog.String("session_id", rec.ID))
	}

	u, err := call(ctx, s, "find_user", func(ctx context.Context) (identity.User, error) {
		return s.users.FindByID(ctx, claims.Subject)
	})
	if identity.IsNotFound(err) {
		return deny("user_missing", slog.String("user_id", claims.Subject))
	}
	if err != nil {
		return fail(s.unavailable(ctx, op, err))
	}
	if !u.CanLogin() {
		return deny("user_ineligible", slog.String("user_id", u.ID))
	}

	won, err := call(ctx, s, "revoke_by_hash", func(ctx context.Context) (bool, error) {
		return s.store.RevokeByHash(ctx, hash, now, ReasonRotated)
	})
	if err != nil {
		return fail(s.unavailable(ctx, op, err))
	}
	if !won {
		s.reuseDetected(ctx, rec, dev)
		return deny("revoked", slog.String("session_id", rec.ID))
	}
	s.metrics.revoked(ReasonRotated, 1)

	tokens, sessionID, err := s.issueTokenPair(ctx, u.ID, u.Email, dev)
	if err != nil {
		// The presented token stays revoked; the caller must log in again.
		return fail(err)
	}

	s.metrics.refresh("success")
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.refresh.succeeded",
		slog.String("user_id", u.ID),
		slog.String("previous_session_id", rec.ID),
		slog.String("session_id", sessionID),
	)
	s.audit(ctx, AuditEvent{
		Action:    AuditRefreshSuccess,
		UserID:    u.ID,
		SessionID: sessionID,
		Device:    dev,
		Meta:      map[string]any{"previous_session_id": rec.ID},
	})
	return tokens, nil
}

// reuseDetected records that a revoked refresh token was presented again,
// either after rotation or by the loser of a concurrent refresh.
func (s *Service) reuseDetected(ctx context.Context, rec Record, dev DeviceContext) {
	s.metrics.reuse()
	s.log.LogAttrs(ctx, slog.LevelWarn, "auth.refresh.reuse_detected",
		slog.String("user_id", rec.UserID),
		slog.String("session_id", rec.ID),
		slog.String("ip", dev.IPAddress),
	)
	s.audit(ctx, AuditEvent{Action: AuditRefreshReuse, UserID: rec.UserID, SessionID: rec.ID, Device: dev})
}

// Logout revokes the given refresh token, or every session of userID when
// refreshToken is empty. It never fails outward; failures are logged.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) {
	now := s.now()
	refreshToken = strings.TrimSpace(refreshToken)

	if refreshToken == "" {
		n, err := call(ctx, s, "revoke_all", func(ctx context.Context) (int64, error) {
			return s.store.RevokeAllForUser(ctx, userID, now, ReasonLogoutAll)
		})
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "auth.logout.failed", slog.String("user_id", userID), slog.String("scope", "all"), slog.Any("err", err))
			return
		}
		s.metrics.revoked(ReasonLogoutAll, n)
		s.log.LogAttrs(ctx, slog.LevelInfo, "auth.logout", slog.String("user_id", userID), slog.String("scope", "all"), slog.Int64("revoked", n))
		s.audit(ctx, AuditEvent{Action: AuditLogout, UserID: userID, Meta: map[string]any{"scope": "all", "revoked": n}})
		return
	}

	hash := s.tokens.Hash(refreshToken)
	rec, err := call(ctx, s, "find_by_hash", func(ctx context.Context) (Record, error) {
		return s.store.FindByHash(ctx, hash)
	})
	if errors.Is(err, ErrRecordNotFound) {
		s.log.LogAttrs(ctx, slog.LevelInfo, "auth.logout", slog.String("user_id", userID), slog.String("scope", "device"), slog.Bool("found", false))
		return
	}
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "auth.logout.failed", slog.String("user_id", userID), slog.String("scope", "device"), slog.Any("err", err))
		return
	}
	if rec.UserID != userID {
		s.log.LogAttrs(ctx, slog.LevelWarn, "auth.logout.failed", slog.String("user_id", userID), slog.String("reason", "owner_mismatch"))
		return
	}

	ok, err := call(ctx, s, "revoke_by_hash", func(ctx context.Context) (bool, error) {
		return s.store.RevokeByHash(ctx, hash, now, ReasonLogout)
	})
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "auth.logout.failed", slog.String("user_id", userID), slog.String("scope", "device"), slog.Any("err", err))
		return
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.logout",
		slog.String("user_id", userID),
		slog.String("session_id", rec.ID),
		slog.String("scope", "device"),
		slog.Bool("revoked", ok),
	)
	if !ok {
		// Already revoked: nothing changed, nothing to audit.
		return
	}
	s.metrics.revoked(ReasonLogout, 1)
	s.audit(ctx, AuditEvent{Action: AuditLogout, UserID: userID, SessionID: rec.ID, Meta: map[string]any{"scope": "device"}})
}

// RevokeAllTokens revokes every live session of userID and returns how many.
func (s *Service) RevokeAllTokens(ctx context.Context, userID string) (int64, error) {
	const op = "session.RevokeAllTokens"

	now := s.now()
	n, err := call(ctx, s, "revoke_all", func(ctx context.Context) (int64, error) {
		return s.store.RevokeAllForUser(ctx, userID, now, ReasonRevokeAll)
	})
	if err != nil {
		return 0, s.unavailable(ctx, op, err)
	}

	s.metrics.revoked(ReasonRevokeAll, n)
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.revoke_all", slog.String("user_id", userID), slog.Int64("revoked", n))
	s.audit(ctx, AuditEvent{Action: AuditRevokeAll, UserID: userID, Meta: map[string]any{"revoked": n}})
	return n, nil
}

// RevokeSession revokes one session by id on behalf of its owner. It
// reports false when the session is unknown, owned by someone else or
// already revoked.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	const op = "session.RevokeSession"

	now := s.now()
	rec, err := call(ctx, s, "find_by_id", func(ctx context.Context) (Record, error) {
		return s.store.FindByID(ctx, sessionID)
	})
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.unavailable(ctx, op, err)
	}
	if rec.UserID != userID {
		return false, nil
	}

	ok, err := call(ctx, s, "revoke_by_id", func(ctx context.Context) (bool, error) {
		return s.store.RevokeByID(ctx, sessionID, now, ReasonSessionRevoked)
	})
	if err != nil {
		return false, s.unavailable(ctx, op, err)
	}
	if ok {
		s.metrics.revoked(ReasonSessionRevoked, 1)
		s.log.LogAttrs(ctx, slog.LevelInfo, "auth.session.revoked", slog.String("user_id", userID), slog.String("session_id", sessionID))
		s.audit(ctx, AuditEvent{Action: AuditSessionRevoked, UserID: userID, SessionID: sessionID})
	}
	return ok, nil
}

// ListSessions returns userID's sessions, newest first. Hashes are never exposed.
func (s *Service) ListSessions(ctx context.Context, userID string, f Filter, p Page) ([]SessionView, error) {
	now := s.now()
	recs, err := call(ctx, s, "list", func(ctx context.Context) ([]Record, error) {
		return s.store.ListForUser(ctx, userID, now, f, p)
	})
	if err != nil {
		return nil, s.unavailable(ctx, "session.ListSessions", err)
	}

	out := make([]SessionView, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.View(now))
	}
	return out, nil
}

// SessionStats summarises userID's sessions.
func (s *Service) SessionStats(ctx context.Context, userID string) (Stats, error) {
	now := s.now()
	st, err := call(ctx, s, "count", func(ctx context.Context) (Stats, error) {
		return s.store.CountForUser(ctx, userID, now)
	})
	if err != nil {
		return Stats{}, s.unavailable(ctx, "session.SessionStats", err)
	}
	return st, nil
}

// ValidateAccessToken verifies an access token and confirms its subject can
// still log in. Rejections are ErrInvalidAccessToken.
func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (AccessClaims, error) {
	const op = "session.ValidateAccessToken"

	claims, err := s.codec.VerifyAccess(accessToken, s.now())
	if errors.Is(err, ErrSigning) {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	u, err := call(ctx, s, "find_user", func(ctx context.Context) (identity.User, error) {
		return s.users.FindByID(ctx, claims.Subject)
	})
	if identity.IsNotFound(err) {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	if err != nil {
		return AccessClaims{}, s.unavailable(ctx, op, err)
	}
	if !u.CanLogin() {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	return claims, nil
}

// CleanupTokens deletes expired rows and rows revoked more than
// retentionDays ago. retentionDays <= 0 uses the configured retention.
// The run is bounded by CleanupTimeout, not StoreTimeout.
func (s *Service) CleanupTokens(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = s.cfg.RetentionDays
	}
	now := s.now()
	retention := time.Duration(retentionDays) * 24 * time.Hour

	res, err := callWithin(ctx, s, "cleanup", s.cfg.CleanupTimeout, func(ctx context.Context) (CleanupResult, error) {
		return s.store.Cleanup(ctx, now, retention)
	})
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "auth.tokens.cleanup.failed", slog.Int("retention_days", retentionDays), slog.Any("err", err))
		return res, s.unavailable(ctx, "session.CleanupTokens", err)
	}

	s.metrics.cleaned(res)
	s.log.LogAttrs(ctx, slog.LevelInfo, "auth.tokens.cleanup",
		slog.Int64("expired_deleted", res.ExpiredDeleted),
		slog.Int64("old_revoked_deleted", res.OldRevokedDeleted),
		slog.Int("retention_days", retentionDays),
	)
	s.audit(ctx, AuditEvent{
		Action: AuditCleanupCompleted,
		Meta: map[string]any{
			"expired_deleted":     res.ExpiredDeleted,
			"old_revoked_deleted": res.OldRevokedDeleted,
		},
	})
	return res, nil
}
