package models

import "time"

// Query records one executed SQL statement. JobID is the remote job
// identifier, kept so an orphaned job can be polled again by hand.
type Query struct {
	ID         string `gorm:"primaryKey"` // UUID
	AnalysisID string `gorm:"index"`
	SQL        string `gorm:"column:sql;type:text"`
	JobID      string
	RowCount   int64
	ExecutedAt time.Time
}
