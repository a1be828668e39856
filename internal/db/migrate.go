package db

import (
	"fmt"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all registered models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.AccessKey{},
		&models.CreditBalance{},
		&models.CreditAllocation{},
		&models.Conversation{},
		&models.Message{},
		&models.Artifact{},
		&models.Quiz{},
		&models.Usage{},
		&models.Setting{},
	)
}
