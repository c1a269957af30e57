// Package db opens the database and keeps its schema up to date
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bitwise74/attachment-api/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// New opens the database behind driver ("sqlite" or "postgres") and
// migrates the attachment tables
func New(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "database.db"
		}

		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory, %w", err)
			}
		}

		dialector = sqlite.Open(dsn + "?_busy_timeout=5000&_foreign_keys=on")
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database, %w", driver, err)
	}

	if driver == "" || driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql pool, %w", err)
		}

		// SQLite has a single writer, extra connections only fight over the lock
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(model.UploadSession{}, model.Attachment{})
	if err != nil {
		return nil, fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return db, nil
}
