// Package token provides the refresh-token hashing primitive.
//
// Raw refresh tokens are never persisted. Stores key rows by a stable
// 64-char hex digest of the raw token:
//   - SHA-256(token) when no pepper is configured.
//   - HMAC-SHA256(token, key) when AUTH_TOKEN_HMAC_KEY is set.
//
// Deployments that require the pepper enforce it at startup through
// NewHasherFromEnv(true, ...).
package token
