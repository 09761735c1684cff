package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hash validates password against the policy and hashes it with the
// configured algorithm.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	switch c.Algorithm {
	case AlgorithmBcrypt, "":
		if len(password) > bcryptMaxBytes {
			return "", ErrPasswordTooLong
		}
		b, err := bcrypt.GenerateFromPassword([]byte(password), c.bcryptCost())
		if err != nil {
			return "", err
		}
		return string(b), nil
	case AlgorithmArgon2id:
		return c.hashArgon2id(password)
	default:
		return "", ErrUnknownAlgorithm
	}
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash):
		return c.verifyBcrypt(encodedHash, password)
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return c.verifyArgon2id(encodedHash, password)
	default:
		return false, ErrInvalidHash
	}
}

// AlgorithmOf reports which algorithm produced encodedHash.
func AlgorithmOf(encodedHash string) (Algorithm, bool) {
	switch {
	case isBcryptHash(encodedHash):
		return AlgorithmBcrypt, true
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return AlgorithmArgon2id, true
	default:
		return "", false
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (c Config) verifyBcrypt(encodedHash, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil || cost > maxBcryptCost {
		return false, ErrInvalidHash
	}
	// bcrypt cannot have produced a hash for longer input.
	if len(password) > bcryptMaxBytes {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
