package session

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Revocation reasons stored on a record.
const (
	ReasonRotated        = "rotated"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonRevokeAll      = "revoke_all"
	ReasonSessionRevoked = "session_revoked"
)

const (
	maxUserAgentLen   = 512
	maxFingerprintLen = 255
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	UserAgent         string
	IPAddress         string
	DeviceFingerprint string
}

// normalized trims, bounds and validates client-supplied device fields.
// An unparseable IP address is dropped rather than stored.
func (d DeviceContext) normalized() DeviceContext {
	out := DeviceContext{
		UserAgent:         truncate(strings.TrimSpace(d.UserAgent), maxUserAgentLen),
		DeviceFingerprint: truncate(strings.TrimSpace(d.DeviceFingerprint), maxFingerprintLen),
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(d.IPAddress)); err == nil {
		out.IPAddress = addr.Unmap().String()
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Record is one issued refresh token bound to one device.
// Only RevokedAt and RevocationReason ever change after creation.
type Record struct {
	ID                string
	UserID            string
	TokenHash         string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevocationReason  string
	UserAgent         string
	IPAddress         string
	DeviceFingerprint string
	CreatedAt         time.Time
}

// IsExpired reports now > ExpiresAt.
func (r Record) IsExpired(now time.Time) bool { return now.After(r.ExpiresAt) }

// IsRevoked reports whether the record was revoked.
func (r Record) IsRevoked() bool { return r.RevokedAt != nil }

// IsValid reports neither expired nor revoked.
func (r Record) IsValid(now time.Time) bool { return !r.IsExpired(now) && !r.IsRevoked() }

// View is the externally visible form of a record; it never carries the hash.
func (r Record) View(now time.Time) SessionView {
	return SessionView{
		ID:                r.ID,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		RevokedAt:         r.RevokedAt,
		UserAgent:         r.UserAgent,
		IPAddress:         r.IPAddress,
		DeviceFingerprint: r.DeviceFingerprint,
		IsExpired:         r.IsExpired(now),
		IsRevoked:         r.IsRevoked(),
	}
}

func validateRecord(r Record) error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	case strings.TrimSpace(r.TokenHash) == "":
		return fmt.Errorf("%w: missing token hash", ErrInvalidRecord)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created at", ErrInvalidRecord)
	case !r.ExpiresAt.After(r.CreatedAt):
		return fmt.Errorf("%w: expires_at must be after created_at", ErrInvalidRecord)
	case r.RevokedAt != nil:
		return fmt.Errorf("%w: new records cannot be revoked", ErrInvalidRecord)
	}
	return nil
}

// SessionView is what ListSessions returns.
type SessionView struct {
	ID                string     `json:"id"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	UserAgent         string     `json:"userAgent,omitempty"`
	IPAddress         string     `json:"ipAddress,omitempty"`
	DeviceFingerprint string     `json:"deviceFingerprint,omitempty"`
	IsExpired         bool       `json:"isExpired"`
	IsRevoked         bool       `json:"isRevoked"`
}

// Filter narrows ListForUser. Nil fields do not filter.
type Filter struct {
	IsExpired *bool
	IsRevoked *bool
}

// Page is offset pagination for ListForUser.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Stats counts a user's records. Expired and Revoked may overlap.
type Stats struct {
	Total   int64 `json:"total"`
	Valid   int64 `json:"valid"`
	Expired int64 `json:"expired"`
	Revoked int64 `json:"revoked"`
}

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	ExpiredDeleted    int64 `json:"expiredDeleted"`
	OldRevokedDeleted int64 `json:"oldRevokedDeleted"`
}

// Total is the number of rows removed.
func (c CleanupResult) Total() int64 { return c.ExpiredDeleted + c.OldRevokedDeleted }
