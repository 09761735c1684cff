package session

import (
	"fmt"
	"strings"
	"time"
)

// maxTokenLen bounds untrusted token input before any parsing.
const maxTokenLen = 4096

// Codec signs and verifies self-contained tokens.
//
// Sign* fail only with ErrSigning (missing secret). Verify* fail with
// ErrMalformedToken, ErrInvalidSignature, ErrTokenExpired or ErrInvalidClaims
// and never return claims from a token whose signature did not verify.
type Codec interface {
	SignAccess(p Payload, now time.Time, ttl time.Duration) (string, error)
	SignRefresh(p Payload, now time.Time, ttl time.Duration) (string, error)
	VerifyAccess(token string, now time.Time) (AccessClaims, error)
	VerifyRefresh(token string, now time.Time) (RefreshClaims, error)
}

// NewCodec returns the Codec selected by cfg.TokenFormat.
func NewCodec(cfg Config) (Codec, error) {
	switch cfg.TokenFormat {
	case FormatJWT, "":
		return NewJWTCodec(cfg), nil
	case FormatPaseto:
		return NewPasetoCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.TokenFormat)
	}
}

func checkTokenInput(token string) error {
	if strings.TrimSpace(token) == "" || len(token) > maxTokenLen {
		return ErrMalformedToken
	}
	return nil
}

// checkClaims applies the post-signature checks common to both formats.
func checkClaims(c Claims, kind, want TokenKind) error {
	if kind != want {
		return fmt.Errorf("%w: expected %s, got %q", ErrInvalidClaims, want, kind)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	return nil
}
