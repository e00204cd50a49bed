package database

import (
	"errors"
	"strings"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/gorm"
)

// Seed promotes the bootstrap admin if the account already exists. User rows
// themselves are created through registration or OAuth sign-in, never here.
func Seed(db *gorm.DB, bootstrapAdminEmail string) error {
	email := strings.TrimSpace(strings.ToLower(bootstrapAdminEmail))
	if email == "" {
		return nil
	}
	var user domain.User
	err := db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if user.IsAdmin {
		return nil
	}
	return db.Model(&user).Update("is_admin", true).Error
}
