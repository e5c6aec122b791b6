package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusRejected UserStatus = "rejected"
)

func (s UserStatus) IsValid() bool {
	switch s {
	case UserStatusPending, UserStatusApproved, UserStatusRejected:
		return true
	}

	return false
}

// User is an account holder. New registrations start out pending and cannot
// log in until an admin approves them.
type User struct {
	gorm.Model
	UserID           uuid.UUID  `json:"id" gorm:"column:user_id;type:uuid;uniqueIndex:idx_user_id;not null"`
	Name             string     `json:"name" gorm:"column:name;type:text;not null"`
	Email            string     `json:"email" gorm:"column:email;type:text;uniqueIndex:idx_user_email;not null"`
	Username         string     `json:"username" gorm:"column:username;type:text;uniqueIndex:idx_user_username;not null"`
	PasswordHash     string     `json:"-" gorm:"column:password_hash;type:text;not null"`
	Role             UserRole   `json:"role" gorm:"column:role;type:text;not null"`
	Status           UserStatus `json:"status" gorm:"column:status;type:text;not null;index:idx_user_status"`
	ResetToken       *string    `json:"-" gorm:"column:reset_token;type:text"`
	ResetTokenExpiry *time.Time `json:"-" gorm:"column:reset_token_expiry;type:timestamptz"`
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// SessionToken is a server-side bearer session. Expired rows are treated as
// absent on lookup.
type SessionToken struct {
	gorm.Model
	Token     string    `gorm:"column:token;type:text;uniqueIndex:idx_session_token;not null"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index:idx_session_user_id"`
	ExpiresAt time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (t *SessionToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// BacktestRecord ties an engine-assigned backtest ID to the user who
// submitted it. The engine owns all job state; this row only records
// ownership and the display name.
type BacktestRecord struct {
	gorm.Model
	BacktestID string    `gorm:"column:backtest_id;type:text;uniqueIndex:idx_backtest_id;not null"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index:idx_backtest_user_id"`
	Name       string    `gorm:"column:name;type:text"`
}
