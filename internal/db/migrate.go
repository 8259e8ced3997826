package db

import (
	"fmt"

	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedUsers upserts User rows from configuration.
func SeedUsers(db *gorm.DB, users []config.UserConfig) error {
	for _, uc := range users {
		user := models.User{
			ID:        uc.ID,
			Name:      uc.Name,
			Email:     uc.Email,
			Role:      uc.Role,
			Headline:  uc.Headline,
			AvatarURL: uc.AvatarURL,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "headline", "avatar_url", "updated_at"}),
		}).Create(&user)
		if result.Error != nil {
			return fmt.Errorf("db: seed user %q: %w", uc.ID, result.Error)
		}
	}
	return nil
}
