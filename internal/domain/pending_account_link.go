package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PendingAccountLink stages an unconfirmed claim to attach a provider
// identity to an existing user. Expired rows are inert: every read path
// except the confirmation lookup filters on expires_at, and confirmation
// deletes what it finds expired.
type PendingAccountLink struct {
	ID                    string    `gorm:"primaryKey;size:36" json:"id"`
	UserID                uint      `gorm:"index:idx_pending_user_provider;not null" json:"user_id"`
	Provider              string    `gorm:"size:32;index:idx_pending_user_provider;not null" json:"provider"`
	ProviderUserID        string    `gorm:"size:255" json:"provider_user_id,omitempty"`
	ProviderEmail         string    `gorm:"size:255;not null" json:"provider_email"`
	ProviderEmailVerified bool      `gorm:"not null;default:false" json:"provider_email_verified"`
	AccessToken           string    `gorm:"size:4096" json:"-"`
	RefreshToken          string    `gorm:"size:4096" json:"-"`
	IDToken               string    `gorm:"size:8192" json:"-"`
	TokenExpiresAt        time.Time `json:"-"`
	Scope                 string    `gorm:"size:1024" json:"scope,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	ExpiresAt             time.Time `gorm:"index;not null" json:"expires_at"`
}

func (p *PendingAccountLink) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *PendingAccountLink) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
