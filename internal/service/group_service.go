package service

import (
	"context"

	"mahilo/internal/models"
	"mahilo/internal/notifications"
	"mahilo/internal/repository"
	"mahilo/internal/validation"
)

// GroupService manages groups and their membership lifecycle.
type GroupService struct {
	groups   repository.GroupRepository
	users    repository.UserRepository
	friends  repository.FriendRepository
	notifier notifications.Notifier
}

// NewGroupService creates a new group service
func NewGroupService(groups repository.GroupRepository, users repository.UserRepository, friends repository.FriendRepository, notifier notifications.Notifier) *GroupService {
	return &GroupService{groups: groups, users: users, friends: friends, notifier: notifier}
}

// Create makes a group with the caller as owner.
func (s *GroupService) Create(ctx context.Context, ownerID, name, description string, inviteOnly bool) (*models.Group, error) {
	if err := validation.ValidateUsername(name); err != nil {
		return nil, models.NewValidationError("Group name must be 3-30 characters of letters, digits and underscores")
	}
	group := &models.Group{
		Name:        name,
		Description: description,
		OwnerUserID: ownerID,
		InviteOnly:  inviteOnly,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// Get returns a group visible to the caller. Non-members can resolve a group
// by id or name; membership details stay member-only.
func (s *GroupService) Get(ctx context.Context, id string) (*models.Group, error) {
	return s.groups.GetByID(ctx, id)
}

// ListMine returns the groups the user belongs to in any status.
func (s *GroupService) ListMine(ctx context.Context, userID string) ([]models.Group, error) {
	return s.groups.ListForUser(ctx, userID)
}

// Invite creates an invited membership. Only admins can invite, and a blocked
// edge between inviter and invitee stops the invitation.
func (s *GroupService) Invite(ctx context.Context, inviterID, groupID, username string) (*models.GroupMembership, error) {
	membership, err := s.requireAdmin(ctx, groupID, inviterID)
	if err != nil {
		return nil, err
	}
	invitee, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if invitee.ID == inviterID {
		return nil, models.NewValidationError("Cannot invite yourself")
	}

	edge, err := s.friends.GetFriendshipBetweenUsers(ctx, inviterID, invitee.ID)
	if err != nil {
		return nil, err
	}
	if edge != nil && edge.Status == models.FriendshipStatusBlocked {
		return nil, models.NewForbiddenError("Cannot invite this user")
	}

	invitation := &models.GroupMembership{
		GroupID:         groupID,
		UserID:          invitee.ID,
		Role:            models.GroupRoleMember,
		Status:          models.MembershipStatusInvited,
		InvitedByUserID: &membership.UserID,
	}
	if err := s.groups.CreateMembership(ctx, invitation); err != nil {
		return nil, err
	}
	s.notifier.Emit(invitee.ID, models.EventGroupInvite, map[string]interface{}{
		"group_id":   groupID,
		"invited_by": inviterID,
	})
	return invitation, nil
}

// Join activates an invitation, or for open groups creates an active
// membership directly. Invite-only groups reject uninvited joins.
func (s *GroupService) Join(ctx context.Context, userID, groupID string) (*models.GroupMembership, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	existing, err := s.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case models.MembershipStatusActive:
			return nil, models.NewConflictError("User is already in this group")
		case models.MembershipStatusInvited, models.MembershipStatusPending:
			existing.Status = models.MembershipStatusActive
			if err := s.groups.UpdateMembership(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}
	if group.InviteOnly {
		return nil, models.NewForbiddenError("Group is invite-only")
	}
	membership := &models.GroupMembership{
		GroupID: groupID,
		UserID:  userID,
		Role:    models.GroupRoleMember,
		Status:  models.MembershipStatusActive,
	}
	if err := s.groups.CreateMembership(ctx, membership); err != nil {
		return nil, err
	}
	return membership, nil
}

// Leave removes the caller's membership. An owner who is the last remaining
// active member deletes the group instead; an owner with other active members
// must transfer ownership first.
func (s *GroupService) Leave(ctx context.Context, userID, groupID string) error {
	membership, err := s.requireMembership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if membership.Role == models.GroupRoleOwner {
		remaining, err := s.groups.CountActiveMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if remaining > 1 {
			return models.NewConflictError("Owner must transfer ownership before leaving")
		}
		return s.groups.Delete(ctx, groupID)
	}
	return s.groups.DeleteMembership(ctx, groupID, userID)
}

// Remove kicks a member. Admins can remove members; only the owner can
// remove an admin.
func (s *GroupService) Remove(ctx context.Context, actorID, groupID, targetUserID string) error {
	actor, err := s.requireAdmin(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	target, err := s.requireMembership(ctx, groupID, targetUserID)
	if err != nil {
		return err
	}
	if target.Role == models.GroupRoleOwner {
		return models.NewForbiddenError("Cannot remove the group owner")
	}
	if target.Role == models.GroupRoleAdmin && actor.Role != models.GroupRoleOwner {
		return models.NewForbiddenError("Only the owner can remove an admin")
	}
	return s.groups.DeleteMembership(ctx, groupID, targetUserID)
}

// SetRole promotes or demotes a member between admin and member. Owner only.
func (s *GroupService) SetRole(ctx context.Context, actorID, groupID, targetUserID string, role models.GroupRole) (*models.GroupMembership, error) {
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.GroupRoleOwner {
		return nil, models.NewForbiddenError("Only the owner can change member roles")
	}
	if role != models.GroupRoleAdmin && role != models.GroupRoleMember {
		return nil, models.NewValidationError("Role must be admin or member")
	}
	target, err := s.requireMembership(ctx, groupID, targetUserID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.GroupRoleOwner {
		return nil, models.NewConflictError("Use ownership transfer to change the owner")
	}
	target.Role = role
	if err := s.groups.UpdateMembership(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// TransferOwnership hands the group to another active member.
func (s *GroupService) TransferOwnership(ctx context.Context, ownerID, groupID, newOwnerID string) error {
	actor, err := s.requireMembership(ctx, groupID, ownerID)
	if err != nil {
		return err
	}
	if actor.Role != models.GroupRoleOwner {
		return models.NewForbiddenError("Only the owner can transfer ownership")
	}
	target, err := s.requireMembership(ctx, groupID, newOwnerID)
	if err != nil {
		return err
	}
	if target.Status != models.MembershipStatusActive {
		return models.NewConflictError("New owner must be an active member")
	}
	return s.groups.TransferOwnership(ctx, groupID, ownerID, newOwnerID)
}

// Delete removes the group and all memberships. Owner only.
func (s *GroupService) Delete(ctx context.Context, actorID, groupID string) error {
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != models.GroupRoleOwner {
		return models.NewForbiddenError("Only the owner can delete the group")
	}
	return s.groups.Delete(ctx, groupID)
}

// Members lists memberships for a group. Member only.
func (s *GroupService) Members(ctx context.Context, userID, groupID string) ([]models.GroupMembership, error) {
	if _, err := s.requireMembership(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.groups.ListMembers(ctx, groupID)
}

// CanAdministerPolicies reports whether the user may manage this group's
// policies: any owner or admin, regardless of which admin created a policy.
func (s *GroupService) CanAdministerPolicies(ctx context.Context, userID, groupID string) (bool, error) {
	membership, err := s.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return membership != nil && membership.Status == models.MembershipStatusActive && membership.IsAdmin(), nil
}

// ActiveMembership returns the user's active membership or a forbidden error.
func (s *GroupService) ActiveMembership(ctx context.Context, userID, groupID string) (*models.GroupMembership, error) {
	membership, err := s.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if membership == nil || membership.Status != models.MembershipStatusActive {
		return nil, models.NewForbiddenError("Not an active member of this group")
	}
	return membership, nil
}

func (s *GroupService) requireMembership(ctx context.Context, groupID, userID string) (*models.GroupMembership, error) {
	membership, err := s.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, models.NewForbiddenError("Not a member of this group")
	}
	return membership, nil
}

func (s *GroupService) requireAdmin(ctx context.Context, groupID, userID string) (*models.GroupMembership, error) {
	membership, err := s.requireMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if membership.Status != models.MembershipStatusActive || !membership.IsAdmin() {
		return nil, models.NewForbiddenError("Requires group admin")
	}
	return membership, nil
}
