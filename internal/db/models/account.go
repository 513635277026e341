package models

import "time"

// Account stores the Google identity and OAuth tokens for one user.
// AccessToken is a short-lived cache; the credential manager is the only
// writer of AccessToken/ExpiresAt and guarantees ExpiresAt is in the
// future whenever AccessToken is non-empty.
type Account struct {
	ID           string `gorm:"primaryKey"` // UUID
	Email        string `gorm:"uniqueIndex"`
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
	LastUsedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
