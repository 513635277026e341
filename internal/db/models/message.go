package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in the append-only conversation log. Ordering by
// CreatedAt (insertion order) is significant.
type Message struct {
	ID        string `gorm:"primaryKey"` // UUID
	SessionID string `gorm:"index"`
	Role      string
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}
