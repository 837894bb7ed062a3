package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemRoleNames are seeded idempotently at boot and shared by all users.
var SystemRoleNames = []string{
	"close_friends",
	"friends",
	"acquaintances",
	"work_contacts",
	"family",
}

// IsSystemRoleName reports whether name is one of the seeded system roles.
func IsSystemRoleName(name string) bool {
	for _, n := range SystemRoleNames {
		if n == name {
			return true
		}
	}
	return false
}

// Role is either a seeded system role (UserID nil) or a user-defined role
// unique per owner. User-defined role names must not shadow a system name.
type Role struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null;uniqueIndex:idx_role_owner_name" json:"name"`
	UserID      *string   `gorm:"uniqueIndex:idx_role_owner_name" json:"userId,omitempty"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `gorm:"default:false" json:"isSystem"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Role) TableName() string {
	return "roles"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (r *Role) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
