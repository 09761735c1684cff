package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Lookups and the uniqueness constraint both use the normalized form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
