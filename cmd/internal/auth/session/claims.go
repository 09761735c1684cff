package session

import "time"

// TokenKind is the "type" claim carried by every token.
type TokenKind string

const (
	KindAccess  TokenKind = "access_token"
	KindRefresh TokenKind = "refresh_token"
)

// Payload is the identity a token is minted for.
type Payload struct {
	UserID string
	Email  string
}

// Claims are the verified contents shared by both token kinds.
type Claims struct {
	Subject   string
	Email     string
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenClaims is implemented only by AccessClaims and RefreshClaims.
// Functions that need one specific kind take the concrete type, so a
// refresh token cannot be passed where an access token is expected.
type TokenClaims interface {
	Kind() TokenKind
	base() Claims
}

// AccessClaims are the verified claims of an access token.
type AccessClaims struct{ Claims }

// RefreshClaims are the verified claims of a refresh token.
type RefreshClaims struct{ Claims }

func (AccessClaims) Kind() TokenKind  { return KindAccess }
func (RefreshClaims) Kind() TokenKind { return KindRefresh }

func (c AccessClaims) base() Claims  { return c.Claims }
func (c RefreshClaims) base() Claims { return c.Claims }
