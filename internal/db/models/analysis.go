package models

import "time"

// Analysis is one named unit of work: a result folder on disk plus the
// queries executed for it. Summary is a short filesystem-safe label
// derived from the user's intent.
type Analysis struct {
	ID        string `gorm:"primaryKey"` // UUID
	DatasetID string `gorm:"index"`
	Summary   string `gorm:"index"`
	CreatedAt time.Time
}
