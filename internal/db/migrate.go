package db

import (
	"fmt"

	"github.com/zulandar/caboose/internal/models"
	"gorm.io/gorm"
)

// OwnedModels are the tables this service writes.
func OwnedModels() []interface{} {
	return []interface{}{
		&models.FollowUpSchedule{},
		&models.FollowUpLog{},
	}
}

// ExternalModels are the tables read for guard signals and transcripts. In
// production they belong to the conversational front end and CRM; migrating
// them is only useful for local and test databases.
func ExternalModels() []interface{} {
	return []interface{}{
		&models.ChatMessage{},
		&models.Lead{},
		&models.PauseFlag{},
	}
}

// AllModels returns every model known to Caboose.
func AllModels() []interface{} {
	return append(OwnedModels(), ExternalModels()...)
}

// AutoMigrate creates or updates the owned tables, and the external ones too
// when withExternal is set.
func AutoMigrate(db *gorm.DB, withExternal bool) error {
	targets := OwnedModels()
	if withExternal {
		targets = AllModels()
	}
	if err := db.AutoMigrate(targets...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
