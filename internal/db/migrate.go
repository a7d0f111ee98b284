package db

import (
	"fmt"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Ticket{},
		&models.Conversation{},
		&models.ConversationMessage{},
	}
}

// AutoMigrate creates or updates all tables. Column additions to existing
// deployments (archive_path and assigned_to grew this way historically) go
// through GORM's migrator rather than ad-hoc ALTER TABLE probing.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
