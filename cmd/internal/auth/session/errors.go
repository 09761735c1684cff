package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is the single outward denial for login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken is the single outward denial for refresh. It covers
	// bad signature, expiry, unknown or revoked records and ineligible users.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidAccessToken is returned by ValidateAccessToken for any rejected token.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrDuplicateEmail is returned by Register when the email is already in use.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidProfile is returned by Register for unusable profile input.
	ErrInvalidProfile = errors.New("invalid registration profile")

	// ErrInfrastructure marks store failures and timeouts. It means the outcome
	// is unknown, not that the caller was denied.
	ErrInfrastructure = errors.New("session infrastructure unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Codec errors.
var (
	ErrSigning          = errors.New("token signing misconfigured")
	ErrMalformedToken   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Store errors.
var (
	ErrRecordNotFound = errors.New("refresh token record not found")
	ErrDuplicateToken = errors.New("duplicate refresh token hash")
	ErrInvalidRecord  = errors.New("invalid refresh token record")
)

// InfrastructureError carries the failing operation. It matches both
// ErrInfrastructure and the underlying cause with errors.Is.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrInfrastructure, e.Err)
}

func (e InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }

// IsDenial reports whether err is an authentication denial rather than an
// infrastructure or configuration failure.
func IsDenial(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidRefreshToken) ||
		errors.Is(err, ErrInvalidAccessToken)
}
