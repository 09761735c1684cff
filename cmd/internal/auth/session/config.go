package session

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the TokenCodec implementation.
type TokenFormat string

const (
	FormatJWT    TokenFormat = "jwt"
	FormatPaseto TokenFormat = "paseto"
)

const (
	// MinSecretBytes is the minimum size of each signing secret.
	MinSecretBytes = 32

	// TokenTypeBearer is the constant AuthTokens.TokenType.
	TokenTypeBearer = "Bearer"
)

// Config defines runtime configuration for the session subsystem.
// Secrets are loaded once at startup and never change afterwards.
type Config struct {
	// Issuer is written to and required in the "iss" claim.
	Issuer string

	// AccessSecret signs access tokens; RefreshSecret signs refresh tokens.
	// They must differ so a leaked access secret cannot mint refresh tokens.
	AccessSecret  string
	RefreshSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// TokenFormat picks JWT (HS256) or PASETO v4.local.
	TokenFormat TokenFormat

	// RetentionDays is how long revoked rows survive before cleanup deletes them.
	RetentionDays int

	// StoreTimeout bounds every store call on the request path.
	StoreTimeout time.Duration

	// CleanupTimeout bounds one CleanupTokens run. Bulk deletes are not
	// request-path work and get their own budget.
	CleanupTimeout time.Duration

	// ClockSkew is the leeway applied to token time checks.
	ClockSkew time.Duration

	// RequireEmailVerification registers users as pending until verified.
	RequireEmailVerification bool
}

// DefaultConfig returns the defaults. Secrets are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:          "saas",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		TokenFormat:     FormatJWT,
		RetentionDays:   30,
		StoreTimeout:    5 * time.Second,
		CleanupTimeout:  time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - JWT_SECRET
//   - JWT_REFRESH_SECRET
//
// Optional (TTLs accept Go durations or the "<n>[smhd]" form, e.g. "7d"):
//   - JWT_EXPIRES_IN (default 15m)
//   - JWT_REFRESH_EXPIRES_IN (default 7d)
//   - JWT_ISSUER
//   - AUTH_TOKEN_FORMAT (jwt | paseto)
//   - REFRESH_TOKEN_RETENTION_DAYS (default 30)
//   - AUTH_STORE_TIMEOUT (default 5s)
//   - AUTH_CLEANUP_TIMEOUT (default 1m)
//   - AUTH_CLOCK_SKEW (default 0s)
//   - AUTH_REQUIRE_EMAIL_VERIFICATION
//
// Errors wrap ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.AccessSecret = os.Getenv("JWT_SECRET")
	cfg.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")

	if v := strings.TrimSpace(os.Getenv("JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := ParseTTL(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: JWT_EXPIRES_IN: %v", ErrConfig, err)
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("JWT_REFRESH_EXPIRES_IN"); v != "" {
		d, err := ParseTTL(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: JWT_REFRESH_EXPIRES_IN: %v", ErrConfig, err)
		}
		cfg.RefreshTokenTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_TOKEN_FORMAT")); v != "" {
		cfg.TokenFormat = TokenFormat(strings.ToLower(v))
	}

	if v := strings.TrimSpace(os.Getenv("REFRESH_TOKEN_RETENTION_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: REFRESH_TOKEN_RETENTION_DAYS must be a positive integer", ErrConfig)
		}
		cfg.RetentionDays = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_STORE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: AUTH_STORE_TIMEOUT must be a positive duration", ErrConfig)
		}
		cfg.StoreTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_CLEANUP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: AUTH_CLEANUP_TIMEOUT must be a positive duration", ErrConfig)
		}
		cfg.CleanupTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: AUTH_CLOCK_SKEW must be a non-negative duration", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_REQUIRE_EMAIL_VERIFICATION")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: AUTH_REQUIRE_EMAIL_VERIFICATION must be a boolean", ErrConfig)
		}
		cfg.RequireEmailVerification = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that both env loading and programmatic
// construction must satisfy.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer must not be empty", ErrConfig)
	case len(c.AccessSecret) < MinSecretBytes:
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	case len(c.RefreshSecret) < MinSecretBytes:
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	case c.AccessSecret == c.RefreshSecret:
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return fmt.Errorf("%w: token TTLs must be positive", ErrConfig)
	case c.RefreshTokenTTL <= c.AccessTokenTTL:
		return fmt.Errorf("%w: refresh TTL must exceed access TTL", ErrConfig)
	case c.TokenFormat != FormatJWT && c.TokenFormat != FormatPaseto:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	case c.RetentionDays <= 0:
		return fmt.Errorf("%w: retention days must be positive", ErrConfig)
	case c.StoreTimeout <= 0:
		return fmt.Errorf("%w: store timeout must be positive", ErrConfig)
	case c.CleanupTimeout <= 0:
		return fmt.Errorf("%w: cleanup timeout must be positive", ErrConfig)
	case c.ClockSkew < 0:
		return fmt.Errorf("%w: clock skew must not be negative", ErrConfig)
	}
	return nil
}

var shortTTLRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseTTL accepts "<n>s", "<n>m", "<n>h", "<n>d" or any Go duration.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if m := shortTTLRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, err
		}
		unit := map[string]time.Duration{
			"s": time.Second,
			"m": time.Minute,
			"h": time.Hour,
			"d": 24 * time.Hour,
		}[m[2]]
		if n <= 0 || n > int64((1<<63-1)/unit) {
			return 0, fmt.Errorf("ttl %q out of range", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", s)
	}
	return d, nil
}
