package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTCodec implements Codec with HS256 JWTs.
type JWTCodec struct {
	issuer     string
	accessKey  []byte
	refreshKey []byte
	leeway     time.Duration
}

type jwtClaims struct {
	Email string    `json:"email"`
	Type  TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// NewJWTCodec builds a JWTCodec from cfg. Missing secrets surface as
// ErrSigning on first use.
func NewJWTCodec(cfg Config) *JWTCodec {
	return &JWTCodec{
		issuer:     cfg.Issuer,
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		leeway:     cfg.ClockSkew,
	}
}

func (c *JWTCodec) SignAccess(p Payload, now time.Time, ttl time.Duration) (string, error) {
	return c.sign(KindAccess, c.accessKey, p, now, ttl)
}

func (c *JWTCodec) SignRefresh(p Payload, now time.Time, ttl time.Duration) (string, error) {
	return c.sign(KindRefresh, c.refreshKey, p, now, ttl)
}

func (c *JWTCodec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	cl, err := c.verify(KindAccess, c.accessKey, token, now)
	if err != nil {
		return AccessClaims{}, err
	}
	return AccessClaims{cl}, nil
}

func (c *JWTCodec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	cl, err := c.verify(KindRefresh, c.refreshKey, token, now)
	if err != nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{cl}, nil
}

func (c *JWTCodec) sign(kind TokenKind, key []byte, p Payload, now time.Time, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: missing %s secret", ErrSigning, kind)
	}
	if p.UserID == "" || ttl <= 0 {
		return "", fmt.Errorf("%w: empty subject or non-positive ttl", ErrSigning)
	}

	claims := jwtClaims{
		Email: p.Email,
		Type:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

func (c *JWTCodec) verify(kind TokenKind, key []byte, token string, now time.Time) (Claims, error) {
	if err := checkTokenInput(token); err != nil {
		return Claims{}, err
	}

	var jc jwtClaims
	_, err := jwt.ParseWithClaims(token, &jc,
		func(*jwt.Token) (any, error) {
			if len(key) == 0 {
				return nil, fmt.Errorf("%w: missing %s secret", ErrSigning, kind)
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.leeway),
	)
	if err != nil {
		return Claims{}, classifyJWTError(err)
	}

	cl := Claims{
		Subject: jc.Subject,
		Email:   jc.Email,
		ID:      jc.ID,
		Issuer:  jc.Issuer,
	}
	if jc.IssuedAt != nil {
		cl.IssuedAt = jc.IssuedAt.Time
	}
	if jc.ExpiresAt != nil {
		cl.ExpiresAt = jc.ExpiresAt.Time
	}

	if err := checkClaims(cl, jc.Type, kind); err != nil {
		return Claims{}, err
	}
	return cl, nil
}

// classifyJWTError maps jwt/v5 validation errors onto the codec taxonomy.
// The library checks the signature before any claim, so an expired token
// is only reported as expired when its signature was valid.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, ErrSigning):
		return ErrSigning
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}
