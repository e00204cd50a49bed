package repository

import (
	"strings"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/gorm"
)

type UserRepository interface {
	FindByID(id uint) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	Create(user *domain.User) error
	Update(user *domain.User) error
	TouchLastLogin(id uint, now time.Time) error
	// FindRecentWithoutCredential returns the most recently updated users that
	// have no credential of the given kind. Best-effort lookup for the OAuth
	// error router; never a security input.
	FindRecentWithoutCredential(kind string, limit int) ([]domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	normalized := strings.TrimSpace(strings.ToLower(email))
	if err := r.db.Where("email = ?", normalized).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(user *domain.User) error { return r.db.Create(user).Error }
func (r *GormUserRepository) Update(user *domain.User) error { return r.db.Save(user).Error }

func (r *GormUserRepository) TouchLastLogin(id uint, now time.Time) error {
	return r.db.Model(&domain.User{}).Where("id = ?", id).
		Updates(map[string]any{"last_login_at": now, "updated_at": now}).Error
}

func (r *GormUserRepository) FindRecentWithoutCredential(kind string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 1
	}
	var users []domain.User
	err := r.db.
		Where("email <> ''").
		Where("id NOT IN (?)", r.db.Model(&domain.LinkedCredential{}).Select("user_id").Where("kind = ?", kind)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
