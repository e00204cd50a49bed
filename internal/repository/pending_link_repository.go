package repository

import (
	"errors"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/gorm"
)

var ErrPendingLinkNotFound = errors.New("pending link not found")

type PendingLinkRepository interface {
	Create(link *domain.PendingAccountLink) error
	// FindByID returns the row even when expired; the confirmation path needs
	// to see an expired row to delete it and answer Gone.
	FindByID(id string) (*domain.PendingAccountLink, error)
	ListActiveByUser(userID uint, now time.Time) ([]domain.PendingAccountLink, error)
	// ReplaceForUserProvider drops any staged claim for (user, provider) and
	// stores the fresh one, so retries always carry current token material.
	ReplaceForUserProvider(link *domain.PendingAccountLink) error
	// ConsumeByID deletes the row and reports whether this caller won the
	// delete. RowsAffected is the linearization point for concurrent confirms.
	ConsumeByID(id string) (bool, error)
	DeleteByID(id string) (int64, error)
	DeleteOwnedByID(id string, userID uint) (int64, error)
	DeleteExpired(now time.Time) (int64, error)
}

type GormPendingLinkRepository struct{ db *gorm.DB }

func NewPendingLinkRepository(db *gorm.DB) PendingLinkRepository {
	return &GormPendingLinkRepository{db: db}
}

func (r *GormPendingLinkRepository) Create(link *domain.PendingAccountLink) error {
	return r.db.Create(link).Error
}

func (r *GormPendingLinkRepository) FindByID(id string) (*domain.PendingAccountLink, error) {
	var link domain.PendingAccountLink
	err := r.db.Where("id = ?", id).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPendingLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *GormPendingLinkRepository) ListActiveByUser(userID uint, now time.Time) ([]domain.PendingAccountLink, error) {
	var links []domain.PendingAccountLink
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&links).Error
	return links, err
}

func (r *GormPendingLinkRepository) ReplaceForUserProvider(link *domain.PendingAccountLink) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND provider = ?", link.UserID, link.Provider).
			Delete(&domain.PendingAccountLink{}).Error; err != nil {
			return err
		}
		return tx.Create(link).Error
	})
}

func (r *GormPendingLinkRepository) ConsumeByID(id string) (bool, error) {
	res := r.db.Where("id = ?", id).Delete(&domain.PendingAccountLink{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormPendingLinkRepository) DeleteByID(id string) (int64, error) {
	res := r.db.Where("id = ?", id).Delete(&domain.PendingAccountLink{})
	return res.RowsAffected, res.Error
}

func (r *GormPendingLinkRepository) DeleteOwnedByID(id string, userID uint) (int64, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.PendingAccountLink{})
	return res.RowsAffected, res.Error
}

func (r *GormPendingLinkRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.PendingAccountLink{})
	return res.RowsAffected, res.Error
}
