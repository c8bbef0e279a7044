package domain

import "time"

// AccountSession is one authenticated Telegram account used to issue
// verification probes. OwnerID 0 means the session is globally scoped.
type AccountSession struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OwnerID     int64     `gorm:"index;uniqueIndex:idx_account_sessions_owner_phone;not null" json:"owner_id"`
	Phone       string    `gorm:"size:20;uniqueIndex:idx_account_sessions_owner_phone;not null" json:"phone"`
	APIID       int       `gorm:"not null" json:"api_id"`
	APIHash     string    `gorm:"size:100;not null" json:"-"`
	SessionName string    `gorm:"size:100;not null" json:"session_name"`
	IsActive    bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	PendingStateWaitingCode      = "waiting_code"
	PendingStateWaitingTwoFactor = "waiting_2fa"
)

// PendingAuth is a durable record of an in-progress login flow. At most one
// row exists per user; retries upsert over the previous attempt.
type PendingAuth struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Phone       string    `gorm:"size:20;not null" json:"phone"`
	APIID       int       `gorm:"not null" json:"api_id"`
	APIHash     string    `gorm:"size:100;not null" json:"-"`
	SessionName string    `gorm:"size:100;not null" json:"session_name"`
	State       string    `gorm:"size:20;not null" json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
