package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Users are migrated first because content and reactions reference them.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	err := db.AutoMigrate(
		&models.User{},
		&models.PendingRegistration{},
		&models.PasswordReset{},
		&models.Post{},
		&models.Comment{},
		&models.Reaction{},
		&models.CacheEntry{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
