package identity

import "time"

// Role is the coarse authorization role carried by a user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive              Status = "active"
	StatusInactive            Status = "inactive"
	StatusSuspended           Status = "suspended"
	StatusPendingVerification Status = "pending_verification"
)

// User is the security principal. PasswordHash never leaves this process;
// callers outside auth receive PublicUser.
type User struct {
	ID            string
	Email         string
	EmailNorm     string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          Role
	Status        Status
	IsActive      bool
	EmailVerified bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanLogin reports whether the account may authenticate or refresh.
func (u User) CanLogin() bool {
	return u.IsActive && u.Status == StatusActive && u.EmailVerified
}

// PublicUser is the sanitized view returned by login and register.
type PublicUser struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	IsActive      bool       `json:"isActive"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Public strips credentials from u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Status:        u.Status,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}
