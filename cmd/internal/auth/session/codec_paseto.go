package session

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	pasetoV4LocalHeader = "v4.local."
	// nonce(32) + tag(32)
	pasetoV4LocalMinBody = 64
)

// PasetoCodec implements Codec with PASETO v4.local tokens.
//
// Each kind gets its own 256-bit key derived from its secret with HKDF, and
// the kind is bound as the implicit assertion, so a token of one kind fails
// authentication under the other.
type PasetoCodec struct {
	issuer     string
	leeway     time.Duration
	accessKey  *paseto.V4SymmetricKey
	refreshKey *paseto.V4SymmetricKey
}

// NewPasetoCodec derives both keys from cfg. Empty secrets leave the
// corresponding key unset; signing with it fails with ErrSigning.
func NewPasetoCodec(cfg Config) (*PasetoCodec, error) {
	c := &PasetoCodec{issuer: cfg.Issuer, leeway: cfg.ClockSkew}

	var err error
	if c.accessKey, err = derivePasetoKey(cfg.AccessSecret, KindAccess); err != nil {
		return nil, err
	}
	if c.refreshKey, err = derivePasetoKey(cfg.RefreshSecret, KindRefresh); err != nil {
		return nil, err
	}
	return c, nil
}

func derivePasetoKey(secret string, kind TokenKind) (*paseto.V4SymmetricKey, error) {
	if secret == "" {
		return nil, nil
	}

	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("saas/paseto/v4.local/"+string(kind)))
	b := make([]byte, 32)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: derive %s key: %v", ErrConfig, kind, err)
	}

	key, err := paseto.V4SymmetricKeyFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s key: %v", ErrConfig, kind, err)
	}
	return &key, nil
}

func (c *PasetoCodec) SignAccess(p Payload, now time.Time, ttl time.Duration) (string, error) {
	return c.sign(KindAccess, c.accessKey, p, now, ttl)
}

func (c *PasetoCodec) SignRefresh(p Payload, now time.Time, ttl time.Duration) (string, error) {
	return c.sign(KindRefresh, c.refreshKey, p, now, ttl)
}

func (c *PasetoCodec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	cl, err := c.verify(KindAccess, c.accessKey, token, now)
	if err != nil {
		return AccessClaims{}, err
	}
	return AccessClaims{cl}, nil
}

func (c *PasetoCodec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	cl, err := c.verify(KindRefresh, c.refreshKey, token, now)
	if err != nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{cl}, nil
}

func (c *PasetoCodec) sign(kind TokenKind, key *paseto.V4SymmetricKey, p Payload, now time.Time, ttl time.Duration) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: missing %s secret", ErrSigning, kind)
	}
	if p.UserID == "" || ttl <= 0 {
		return "", fmt.Errorf("%w: empty subject or non-positive ttl", ErrSigning)
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(p.UserID)
	tok.SetJti(uuid.NewString())
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(ttl))
	tok.SetString("email", p.Email)
	tok.SetString("type", string(kind))

	return tok.V4Encrypt(*key, []byte(kind)), nil
}

func (c *PasetoCodec) verify(kind TokenKind, key *paseto.V4SymmetricKey, token string, now time.Time) (Claims, error) {
	if err := checkTokenInput(token); err != nil {
		return Claims{}, err
	}
	if !wellFormedV4Local(token) {
		return Claims{}, ErrMalformedToken
	}
	if key == nil {
		return Claims{}, fmt.Errorf("%w: missing %s secret", ErrSigning, kind)
	}

	// Time rules are applied below so expiry can be told apart from a bad tag.
	parser := paseto.NewParserWithoutExpiryCheck()
	parsed, err := parser.ParseV4Local(*key, token, []byte(kind))
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: missing exp", ErrInvalidClaims)
	}
	if now.After(exp.Add(c.leeway)) {
		return Claims{}, ErrTokenExpired
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && now.Add(c.leeway).Before(nbf) {
		return Claims{}, fmt.Errorf("%w: token not yet valid", ErrInvalidClaims)
	}

	iss, _ := parsed.GetIssuer()
	if c.issuer != "" && iss != c.issuer {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidClaims)
	}

	sub, _ := parsed.GetSubject()
	jti, _ := parsed.GetJti()
	iat, _ := parsed.GetIssuedAt()
	email, _ := parsed.GetString("email")
	typ, _ := parsed.GetString("type")

	cl := Claims{
		Subject:   sub,
		Email:     email,
		ID:        jti,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}
	if err := checkClaims(cl, TokenKind(typ), kind); err != nil {
		return Claims{}, err
	}
	return cl, nil
}

// wellFormedV4Local checks framing only: header, base64url body and minimum size.
func wellFormedV4Local(token string) bool {
	if !strings.HasPrefix(token, pasetoV4LocalHeader) {
		return false
	}
	body, _, _ := strings.Cut(strings.TrimPrefix(token, pasetoV4LocalHeader), ".")
	raw, err := base64.RawURLEncoding.DecodeString(body)
	return err == nil && len(raw) >= pasetoV4LocalMinBody
}
