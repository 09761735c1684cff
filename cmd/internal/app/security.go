package app

import (
	"errors"
	"fmt"

	"github.com/plap9/saas/cmd/security/token"
)

// ValidateSecurityConfig enforces the refresh-token hashing policy at
// startup and returns the hasher the session service must use.
//
// A configured AUTH_TOKEN_HMAC_KEY is always validated, even when the
// policy does not require one.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.NewHasherFromEnv(cfg.RequireTokenHMAC, token.MinHMACKeyBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, fmt.Errorf("security policy: APP_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
		default:
			return token.Hasher{}, err
		}
	}

	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return token.Hasher{}, errors.New("security policy: APP_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
