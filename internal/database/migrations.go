package database

import (
	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ConfirmationRequest{},
		&models.DoctorPatientLink{},
		&models.TicEvent{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}
