package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/plap9/saas/cmd/identity/ids"
)

// refreshTokenModel is the gorm mapping of the refresh_tokens table.
type refreshTokenModel struct {
	ID                string     `gorm:"primaryKey;size:26"`
	UserID            string     `gorm:"size:26;not null;index:idx_refresh_tokens_user_created,priority:1"`
	TokenHash         string     `gorm:"size:64;not null;uniqueIndex:uq_refresh_tokens_token_hash"`
	ExpiresAt         time.Time  `gorm:"not null;index:idx_refresh_tokens_expires_at"`
	RevokedAt         *time.Time `gorm:"index:idx_refresh_tokens_revoked_at"`
	RevocationReason  string     `gorm:"size:32;not null;default:''"`
	UserAgent         string     `gorm:"size:512;not null;default:''"`
	IPAddress         string     `gorm:"size:45;not null;default:''"`
	DeviceFingerprint string     `gorm:"size:255;not null;default:''"`
	CreatedAt         time.Time  `gorm:"not null;index:idx_refresh_tokens_user_created,priority:2"`
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

func (m refreshTokenModel) toRecord() Record {
	return Record{
		ID:                m.ID,
		UserID:            m.UserID,
		TokenHash:         m.TokenHash,
		ExpiresAt:         m.ExpiresAt.UTC(),
		RevokedAt:         utcPtr(m.RevokedAt),
		RevocationReason:  m.RevocationReason,
		UserAgent:         m.UserAgent,
		IPAddress:         m.IPAddress,
		DeviceFingerprint: m.DeviceFingerprint,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// GormStore implements Store over gorm (sqlite, mysql or postgres).
//
// The *gorm.DB must be opened with TranslateError so unique violations
// surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the refresh_tokens table.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&refreshTokenModel{})
}

func (s *GormStore) Create(ctx context.Context, rec Record) (Record, error) {
	const op = "session.Create"

	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		id, err := ids.NewULID(rec.CreatedAt)
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", op, err)
		}
		rec.ID = id
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	m := refreshTokenModel{
		ID:                rec.ID,
		UserID:            rec.UserID,
		TokenHash:         rec.TokenHash,
		ExpiresAt:         rec.ExpiresAt,
		UserAgent:         rec.UserAgent,
		IPAddress:         rec.IPAddress,
		DeviceFingerprint: rec.DeviceFingerprint,
		CreatedAt:         rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Select("*").Create(&m).Error; err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return Record{}, fmt.Errorf("%s: %w", op, ErrDuplicateToken)
		case errors.Is(err, gorm.ErrForeignKeyViolated):
			return Record{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidRecord, err)
		}
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *GormStore) FindByHash(ctx context.Context, tokenHash string) (Record, error) {
	return s.first(ctx, "session.FindByHash", "token_hash = ?", tokenHash)
}

func (s *GormStore) FindByID(ctx context.Context, id string) (Record, error) {
	return s.first(ctx, "session.FindByID", "id = ?", id)
}

func (s *GormStore) first(ctx context.Context, op, where, arg string) (Record, error) {
	if strings.TrimSpace(arg) == "" {
		return Record{}, ErrRecordNotFound
	}
	var m refreshTokenModel
	err := s.db.WithContext(ctx).Where(where, arg).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return m.toRecord(), nil
}

func (s *GormStore) RevokeByHash(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error) {
	n, err := s.revoke(ctx, "session.RevokeByHash", "token_hash = ?", tokenHash, now, reason)
	return n == 1, err
}

func (s *GormStore) RevokeByID(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	n, err := s.revoke(ctx, "session.RevokeByID", "id = ?", id, now, reason)
	return n == 1, err
}

func (s *GormStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason string) (int64, error) {
	return s.revoke(ctx, "session.RevokeAllForUser", "user_id = ?", userID, now, reason)
}

func (s *GormStore) revoke(ctx context.Context, op, where, arg string, now time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where(where+" AND revoked_at IS NULL", arg).
		Updates(map[string]any{"revoked_at": now.UTC(), "revocation_reason": reason})
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", op, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) ListForUser(ctx context.Context, userID string, now time.Time, f Filter, p Page) ([]Record, error) {
	p = p.normalized()
	now = now.UTC()

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.IsExpired != nil {
		if *f.IsExpired {
			q = q.Where("expires_at < ?", now)
		} else {
			q = q.Where("expires_at >= ?", now)
		}
	}
	if f.IsRevoked != nil {
		if *f.IsRevoked {
			q = q.Where("revoked_at IS NOT NULL")
		} else {
			q = q.Where("revoked_at IS NULL")
		}
	}

	var models []refreshTokenModel
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(p.Limit).Offset(p.Offset).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("session.ListForUser: %w", err)
	}

	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRecord())
	}
	return out, nil
}

func (s *GormStore) CountForUser(ctx context.Context, userID string, now time.Time) (Stats, error) {
	now = now.UTC()

	var row struct {
		Total   int64
		Valid   int64
		Expired int64
		Revoked int64
	}
	err := s.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN revoked_at IS NULL AND expires_at >= ? THEN 1 ELSE 0 END), 0) AS valid,
			COALESCE(SUM(CASE WHEN expires_at < ? THEN 1 ELSE 0 END), 0) AS expired,
			COALESCE(SUM(CASE WHEN revoked_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS revoked`, now, now).
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return Stats{}, fmt.Errorf("session.CountForUser: %w", err)
	}
	return Stats{Total: row.Total, Valid: row.Valid, Expired: row.Expired, Revoked: row.Revoked}, nil
}

func (s *GormStore) Cleanup(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error) {
	const op = "session.Cleanup"

	var res CleanupResult
	db := s.db.WithContext(ctx)

	del := db.Where("expires_at < ?", now.UTC()).Delete(&refreshTokenModel{})
	if del.Error != nil {
		return res, fmt.Errorf("%s: expired: %w", op, del.Error)
	}
	res.ExpiredDeleted = del.RowsAffected

	del = db.Where("revoked_at IS NOT NULL AND revoked_at < ?", now.Add(-retention).UTC()).Delete(&refreshTokenModel{})
	if del.Error != nil {
		return res, fmt.Errorf("%s: revoked: %w", op, del.Error)
	}
	res.OldRevokedDeleted = del.RowsAffected
	return res, nil
}
