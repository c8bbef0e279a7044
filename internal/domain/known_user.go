package domain

import "time"

// KnownUser is an entry in the operator-maintained registry of people whose
// phone numbers are recognized ahead of verification. PhoneDigits is the
// phone with every non-digit stripped and is the lookup key, so "+380 99"
// and "38099" land on the same row.
type KnownUser struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Phone       string    `gorm:"size:32;not null" json:"phone"`
	PhoneDigits string    `gorm:"size:32;uniqueIndex;not null" json:"-"`
	FirstName   string    `gorm:"size:100;not null" json:"first_name"`
	LastName    string    `gorm:"size:100;not null" json:"last_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
