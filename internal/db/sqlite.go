package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ryokaneoka0406/wise/internal/db/models"
)

// InitDB opens the local SQLite store and runs migrations for every
// record kind the CLI persists.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Session{},
		&models.Message{},
		&models.Dataset{},
		&models.Analysis{},
		&models.Query{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
