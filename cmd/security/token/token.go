package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the refresh-token pepper.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "AUTH_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum pepper size accepted in enforced mode.
	MinHMACKeyBytes = 32
)

// Hasher maps a raw token to its lookup digest.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A nil or empty key selects SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// NewHasherFromEnv builds a Hasher from AUTH_TOKEN_HMAC_KEY.
//
// With require=false a missing key falls back to SHA-256; a present key must
// still satisfy minBytes.
func NewHasherFromEnv(require bool, minBytes int) (Hasher, error) {
	key, err := HMACKeyFromEnv(minBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case err == ErrHMACKeyMissing && !require:
		return Hasher{}, nil
	default:
		return Hasher{}, err
	}
}

// Hash returns the 64-char hex digest of raw.
func (h Hasher) Hash(raw string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, h.key)
}

// HMACEnabled reports whether the hasher is peppered.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
