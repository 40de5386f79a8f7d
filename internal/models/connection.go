package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SocialConnection represents one linked provider account for a user.
// Token columns hold AES-256-GCM sealed blobs, never plaintext; encryption
// and decryption happen above this layer. A row existing means the account is
// connected; an expired access token is still a connection.
type SocialConnection struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	UserID   string `json:"user_id" gorm:"uniqueIndex:idx_user_provider;not null;type:uuid"`
	Provider string `json:"provider" gorm:"uniqueIndex:idx_user_provider;not null"`

	// Identity as reported by the provider.
	ProviderAccountID string `json:"provider_account_id" gorm:"not null"`
	Username          string `json:"username"`
	DisplayName       string `json:"display_name"`
	Email             string `json:"email"`
	AvatarURL         string `json:"avatar_url"`

	// Encrypted credential material.
	AccessToken  string  `json:"-" gorm:"not null"` // AES-256-GCM sealed
	RefreshToken *string `json:"-"`                 // AES-256-GCM sealed, nil when the provider issued none

	TokenType string     `json:"token_type"`
	ExpiresAt *time.Time `json:"expires_at"` // nil means the token never expires

	Scopes   StringList `json:"scopes" gorm:"type:jsonb"`
	Metadata JSONMap    `json:"metadata" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for SocialConnection
func (SocialConnection) TableName() string {
	return "social_connections"
}

// BeforeCreate assigns a UUID primary key when none is set
func (c *SocialConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the access token's expiry has passed.
// Connections without an expiry never expire.
func (c *SocialConnection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires inside the window.
func (c *SocialConnection) ExpiresWithin(now time.Time, window time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now.Add(window))
}
