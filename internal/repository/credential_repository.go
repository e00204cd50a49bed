package repository

import (
	"errors"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialRepository interface {
	Create(credential *domain.LinkedCredential) error
	FindByKindAndExternalID(kind, providerUserID string) (*domain.LinkedCredential, error)
	FindByUserAndKind(userID uint, kind string) (*domain.LinkedCredential, error)
	FindPassword(userID uint) (*domain.LinkedCredential, error)
	ListByUser(userID uint) ([]domain.LinkedCredential, error)
	CountOAuthByUser(userID uint) (int64, error)
	UpdatePasswordHash(userID uint, newHash string) error
	// DisableEmailLogin nulls the password hash while keeping the row, so the
	// password method stays visible in account settings as "disabled".
	DisableEmailLogin(userID uint) error
	DeleteByUserAndKind(userID uint, kind string) (int64, error)
}

type GormCredentialRepository struct{ db *gorm.DB }

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) Create(credential *domain.LinkedCredential) error {
	return r.db.Create(credential).Error
}

func (r *GormCredentialRepository) FindByKindAndExternalID(kind, providerUserID string) (*domain.LinkedCredential, error) {
	var c domain.LinkedCredential
	err := r.db.Where("kind = ? AND provider_user_id = ?", kind, providerUserID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *GormCredentialRepository) FindByUserAndKind(userID uint, kind string) (*domain.LinkedCredential, error) {
	var c domain.LinkedCredential
	err := r.db.Where("user_id = ? AND kind = ?", userID, kind).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *GormCredentialRepository) FindPassword(userID uint) (*domain.LinkedCredential, error) {
	return r.FindByUserAndKind(userID, domain.CredentialKindPassword)
}

func (r *GormCredentialRepository) ListByUser(userID uint) ([]domain.LinkedCredential, error) {
	var creds []domain.LinkedCredential
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&creds).Error
	return creds, err
}

func (r *GormCredentialRepository) CountOAuthByUser(userID uint) (int64, error) {
	var n int64
	err := r.db.Model(&domain.LinkedCredential{}).
		Where("user_id = ? AND kind <> ?", userID, domain.CredentialKindPassword).
		Count(&n).Error
	return n, err
}

func (r *GormCredentialRepository) UpdatePasswordHash(userID uint, newHash string) error {
	return r.db.Model(&domain.LinkedCredential{}).
		Where("user_id = ? AND kind = ?", userID, domain.CredentialKindPassword).
		Updates(map[string]any{"password_hash": newHash, "updated_at": time.Now().UTC()}).Error
}

func (r *GormCredentialRepository) DisableEmailLogin(userID uint) error {
	return r.UpdatePasswordHash(userID, "")
}

func (r *GormCredentialRepository) DeleteByUserAndKind(userID uint, kind string) (int64, error) {
	res := r.db.Where("user_id = ? AND kind = ?", userID, kind).Delete(&domain.LinkedCredential{})
	return res.RowsAffected, res.Error
}
