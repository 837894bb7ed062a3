package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FriendshipStatus represents the status of a friendship request.
type FriendshipStatus string

const (
	// FriendshipStatusPending indicates a pending friendship request.
	FriendshipStatusPending FriendshipStatus = "pending"
	// FriendshipStatusAccepted indicates an accepted friendship request.
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	// FriendshipStatusBlocked indicates a blocked friendship.
	FriendshipStatusBlocked FriendshipStatus = "blocked"
)

// Friendship represents a relationship between two users. At most one row
// exists per unordered pair; authorization checks accept the row in either
// direction.
type Friendship struct {
	ID          string           `gorm:"primaryKey" json:"id"`
	RequesterID string           `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"requesterId"`
	AddresseeID string           `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"addresseeId"`
	Status      FriendshipStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	Requester User `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Addressee User `gorm:"foreignKey:AddresseeID" json:"addressee,omitempty"`
}

// TableName specifies the table name for GORM
func (Friendship) TableName() string {
	return "friendships"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (f *Friendship) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// OtherUserID returns the counterpart of userID in the friendship.
func (f *Friendship) OtherUserID(userID string) string {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// Involves reports whether userID is one side of the friendship.
func (f *Friendship) Involves(userID string) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

// FriendRole assigns a role name to a friendship. The role must exist in the
// union of system roles and the assigning user's custom roles.
type FriendRole struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	FriendshipID string    `gorm:"not null;uniqueIndex:idx_friend_role" json:"friendshipId"`
	RoleName     string    `gorm:"not null;uniqueIndex:idx_friend_role" json:"roleName"`
	CreatedAt    time.Time `json:"createdAt"`

	Friendship Friendship `gorm:"foreignKey:FriendshipID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM
func (FriendRole) TableName() string {
	return "friend_roles"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (r *FriendRole) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
