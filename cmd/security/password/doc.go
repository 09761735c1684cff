// Package password provides the password hashing primitive used by
// registration and credential verification.
//
// New hashes are produced with the configured algorithm (bcrypt by default,
// cost 12). Verify recognises both bcrypt ($2a$/$2b$/$2y$) and Argon2id
// PHC strings, so stored hashes keep working when the algorithm changes.
//
// Security notes:
//   - Hash strings are treated as untrusted input during Verify.
//   - Verification refuses hashes whose cost parameters exceed reasonable bounds.
package password
