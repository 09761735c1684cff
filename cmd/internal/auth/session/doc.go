// Package session implements the token lifecycle: login, registration,
// refresh-token rotation and revocation over a per-device refresh-token store.
//
// Access and refresh tokens are signed with independent secrets (HS256 JWT
// by default, PASETO v4.local optionally). Refresh tokens are also persisted,
// keyed by a one-way digest of the raw token, so every refresh is checked
// against the store and a revoked token stays dead even while its signature
// is still valid.
//
// Transport (HTTP) integration is out of scope here.
package session
