package models

import "time"

// Session status values mirror the chat state machine.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session is one run of the chat loop, bound to the authenticated account.
type Session struct {
	ID        string `gorm:"primaryKey"` // UUID
	AccountID string `gorm:"index"`
	Status    string `gorm:"default:active"`
	StartedAt time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
