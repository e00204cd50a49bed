package domain

import "time"

// CredentialKindPassword is the reserved kind for the local password method.
// Every other kind is an OAuth provider name (google, github).
const CredentialKindPassword = "password"

// LinkedCredential is one authentication method attached to a User.
// At most one password row per user and one row per (user, provider) pair;
// both are enforced by the composite unique index.
type LinkedCredential struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index:idx_user_kind,unique;not null" json:"user_id"`
	Kind           string    `gorm:"size:32;index:idx_user_kind,unique;not null" json:"kind"`
	ProviderUserID string    `gorm:"size:255;index:idx_kind_external" json:"provider_user_id,omitempty"`
	PasswordHash   string    `gorm:"size:1024" json:"-"`
	AccessToken    string    `gorm:"size:4096" json:"-"`
	RefreshToken   string    `gorm:"size:4096" json:"-"`
	IDToken        string    `gorm:"size:8192" json:"-"`
	TokenExpiresAt time.Time `json:"-"`
	Scope          string    `gorm:"size:1024" json:"scope,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *LinkedCredential) IsPassword() bool { return c.Kind == CredentialKindPassword }

// HasUsablePassword reports whether password login is possible with this row.
// A password row with an empty hash marks a disabled email login.
func (c *LinkedCredential) HasUsablePassword() bool {
	return c.IsPassword() && c.PasswordHash != ""
}
