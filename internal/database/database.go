package database

import (
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/koshelf/koshelf/internal/entities"
)

type Database struct {
	DB *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Serialize writers at the driver level; per-key locking above this still
	// governs read-modify-write ordering.
	if sqlDB, err := db.DB(); err == nil {
		if _, err := sqlDB.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	err = db.AutoMigrate(
		&entities.User{},
		&entities.Device{},
		&entities.Book{},
		&entities.SyncRecord{},
		&entities.ReadingStat{},
		&entities.AuditEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized at %s", dbPath)

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
