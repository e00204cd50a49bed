package database

import (
	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.LinkedCredential{},
		&domain.PendingAccountLink{},
		&domain.Session{},
	)
}
