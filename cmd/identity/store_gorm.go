package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// userModel is the gorm mapping of the users table.
type userModel struct {
	ID            string     `gorm:"primaryKey;size:26"`
	Email         string     `gorm:"size:320;not null"`
	EmailNorm     string     `gorm:"size:320;not null;uniqueIndex:uq_users_email_norm"`
	PasswordHash  string     `gorm:"size:255;not null"`
	FirstName     string     `gorm:"size:100;not null;default:''"`
	LastName      string     `gorm:"size:100;not null;default:''"`
	Role          string     `gorm:"size:16;not null;default:'user'"`
	Status        string     `gorm:"size:32;not null;default:'active'"`
	IsActive      bool       `gorm:"not null;default:true"`
	EmailVerified bool       `gorm:"not null;default:false"`
	LastLoginAt   *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toUser() User {
	return User{
		ID:            m.ID,
		Email:         m.Email,
		EmailNorm:     m.EmailNorm,
		PasswordHash:  m.PasswordHash,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Role:          Role(m.Role),
		Status:        Status(m.Status),
		IsActive:      m.IsActive,
		EmailVerified: m.EmailVerified,
		LastLoginAt:   m.LastLoginAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
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

// AutoMigrate creates or updates the users table.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{})
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.first(ctx, "identity.FindByEmail", "email_norm = ?", NormalizeEmail(email))
}

func (s *GormStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.first(ctx, "identity.FindByID", "id = ?", strings.TrimSpace(id))
}

func (s *GormStore) first(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	var m userModel
	err := s.db.WithContext(ctx).Where(where, arg).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return m.toUser(), nil
}

func (s *GormStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	u, err := newUser(op, in)
	if err != nil {
		return User{}, err
	}

	m := userModel{
		ID:            u.ID,
		Email:         u.Email,
		EmailNorm:     u.EmailNorm,
		PasswordHash:  u.PasswordHash,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          string(u.Role),
		Status:        string(u.Status),
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	// Select all columns so false booleans are written rather than replaced by defaults.
	if err := s.db.WithContext(ctx).Select("*").Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *GormStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const op = "identity.UpdateLastLogin"

	at = at.UTC()
	res := s.db.WithContext(ctx).
		Model(&userModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_login_at": at, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}
