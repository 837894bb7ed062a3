package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GroupRole represents a member's role within a group.
type GroupRole string

const (
	// GroupRoleOwner is the single owning member of a group.
	GroupRoleOwner GroupRole = "owner"
	// GroupRoleAdmin can manage invitations and group-scoped policies.
	GroupRoleAdmin GroupRole = "admin"
	// GroupRoleMember is a regular member.
	GroupRoleMember GroupRole = "member"
)

// MembershipStatus represents the lifecycle of a group membership.
type MembershipStatus string

const (
	// MembershipStatusInvited indicates an invitation awaiting the user's join.
	MembershipStatusInvited MembershipStatus = "invited"
	// MembershipStatusPending indicates a join request awaiting approval.
	MembershipStatusPending MembershipStatus = "pending"
	// MembershipStatusActive indicates full membership.
	MembershipStatusActive MembershipStatus = "active"
)

// Group is a named set of users that can be messaged as a unit.
// The owner membership is created atomically with the group.
type Group struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerUserID string    `gorm:"not null;index" json:"ownerUserId"`
	InviteOnly  bool      `gorm:"default:false" json:"inviteOnly"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Owner User `gorm:"foreignKey:OwnerUserID" json:"-"`
}

// TableName specifies the table name for GORM
func (Group) TableName() string {
	return "groups"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (g *Group) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// GroupMembership links a user to a group with a role and lifecycle status.
// (group_id, user_id) is unique.
type GroupMembership struct {
	ID              string           `gorm:"primaryKey" json:"id"`
	GroupID         string           `gorm:"not null;uniqueIndex:idx_group_member" json:"groupId"`
	UserID          string           `gorm:"not null;uniqueIndex:idx_group_member;index" json:"userId"`
	Role            GroupRole        `gorm:"type:varchar(20);default:'member'" json:"role"`
	Status          MembershipStatus `gorm:"type:varchar(20);default:'active';index" json:"status"`
	InvitedByUserID *string          `json:"invitedByUserId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`

	Group Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for GORM
func (GroupMembership) TableName() string {
	return "group_memberships"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (m *GroupMembership) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// IsAdmin reports whether the membership carries group-management rights.
func (m *GroupMembership) IsAdmin() bool {
	return m.Role == GroupRoleOwner || m.Role == GroupRoleAdmin
}
