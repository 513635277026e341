package models

import "time"

// Dataset identifies a warehouse dataset the user has selected, keyed by
// (project, dataset).
type Dataset struct {
	ID        string `gorm:"primaryKey"` // UUID
	Project   string `gorm:"uniqueIndex:idx_project_dataset"`
	Dataset   string `gorm:"uniqueIndex:idx_project_dataset"`
	CreatedAt time.Time
}
