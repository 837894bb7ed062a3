// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a registered account in the message registry.
// API key material is write-once: rotation replaces both the hash and the
// indexed key id in a single update.
type User struct {
	ID               string         `gorm:"primaryKey" json:"id"`
	Username         string         `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName      string         `json:"displayName,omitempty"`
	APIKeyHash       string         `gorm:"not null" json:"-"`
	APIKeyID         string         `gorm:"uniqueIndex;not null" json:"-"`
	TwitterHandle    string         `json:"twitterHandle,omitempty"`
	TwitterVerified  bool           `gorm:"default:false" json:"twitterVerified"`
	VerificationCode string         `json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserPreferences holds cross-agent-synced notification and default-LLM
// settings, 1:1 with User. Not on the critical send path.
type UserPreferences struct {
	ID                    string    `gorm:"primaryKey" json:"id"`
	UserID                string    `gorm:"uniqueIndex;not null" json:"userId"`
	NotifyMessageReceived bool      `gorm:"default:true" json:"notifyMessageReceived"`
	NotifyDeliveryStatus  bool      `gorm:"default:true" json:"notifyDeliveryStatus"`
	NotifyFriendRequest   bool      `gorm:"default:true" json:"notifyFriendRequest"`
	NotifyGroupInvite     bool      `gorm:"default:true" json:"notifyGroupInvite"`
	DefaultLLMModel       string    `json:"defaultLlmModel,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (UserPreferences) TableName() string {
	return "user_preferences"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (p *UserPreferences) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
