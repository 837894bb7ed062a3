package service

import (
	"context"

	"mahilo/internal/models"
	"mahilo/internal/notifications"
	"mahilo/internal/repository"
)

// FriendService manages the friendship graph and per-friendship roles.
type FriendService struct {
	friends  repository.FriendRepository
	users    repository.UserRepository
	roles    repository.RoleRepository
	notifier notifications.Notifier
}

// NewFriendService creates a new friend service
func NewFriendService(friends repository.FriendRepository, users repository.UserRepository, roles repository.RoleRepository, notifier notifications.Notifier) *FriendService {
	return &FriendService{friends: friends, users: users, roles: roles, notifier: notifier}
}

// SendRequest creates a pending friendship from requester to the named user.
// If the reverse pending request already exists the two are auto-accepted:
// both sides asking is mutual consent. A blocked edge is a hard stop.
func (s *FriendService) SendRequest(ctx context.Context, requesterID, addresseeUsername string) (*models.Friendship, error) {
	addressee, err := s.users.GetByUsername(ctx, addresseeUsername)
	if err != nil {
		return nil, err
	}
	if addressee.ID == requesterID {
		return nil, models.NewValidationError("Cannot friend yourself")
	}

	existing, err := s.friends.GetFriendshipBetweenUsers(ctx, requesterID, addressee.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case models.FriendshipStatusBlocked:
			return nil, models.NewForbiddenError("Cannot send friend request")
		case models.FriendshipStatusAccepted:
			return nil, models.NewConflictError("Already friends")
		case models.FriendshipStatusPending:
			if existing.RequesterID == requesterID {
				return nil, models.NewConflictError("Friend request already sent")
			}
			// They asked us first; both sides want it.
			if err := s.friends.UpdateStatus(ctx, existing.ID, models.FriendshipStatusAccepted); err != nil {
				return nil, err
			}
			existing.Status = models.FriendshipStatusAccepted
			s.notifier.Emit(existing.RequesterID, models.EventFriendRequest, map[string]interface{}{
				"friendship_id": existing.ID,
				"status":        string(models.FriendshipStatusAccepted),
			})
			return existing, nil
		}
	}

	friendship := &models.Friendship{
		RequesterID: requesterID,
		AddresseeID: addressee.ID,
		Status:      models.FriendshipStatusPending,
	}
	if err := s.friends.Create(ctx, friendship); err != nil {
		return nil, err
	}
	s.notifier.Emit(addressee.ID, models.EventFriendRequest, map[string]interface{}{
		"friendship_id": friendship.ID,
		"requester_id":  requesterID,
		"status":        string(models.FriendshipStatusPending),
	})
	return friendship, nil
}

// Accept marks a pending request accepted. Only the addressee may accept.
func (s *FriendService) Accept(ctx context.Context, userID, friendshipID string) (*models.Friendship, error) {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return nil, err
	}
	if friendship.AddresseeID != userID {
		return nil, models.NewForbiddenError("Only the addressee can accept a friend request")
	}
	if friendship.Status != models.FriendshipStatusPending {
		return nil, models.NewConflictError("Friend request is not pending")
	}
	if err := s.friends.UpdateStatus(ctx, friendshipID, models.FriendshipStatusAccepted); err != nil {
		return nil, err
	}
	friendship.Status = models.FriendshipStatusAccepted
	s.notifier.Emit(friendship.RequesterID, models.EventFriendRequest, map[string]interface{}{
		"friendship_id": friendship.ID,
		"status":        string(models.FriendshipStatusAccepted),
	})
	return friendship, nil
}

// Reject removes a pending request. Only the addressee may reject.
func (s *FriendService) Reject(ctx context.Context, userID, friendshipID string) error {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return err
	}
	if friendship.AddresseeID != userID {
		return models.NewForbiddenError("Only the addressee can reject a friend request")
	}
	if friendship.Status != models.FriendshipStatusPending {
		return models.NewConflictError("Friend request is not pending")
	}
	return s.friends.Delete(ctx, friendshipID)
}

// Block sets the edge to blocked, creating it if needed. Either side can
// block; a blocked edge stops requests and message routing in both directions.
func (s *FriendService) Block(ctx context.Context, userID, targetUsername string) (*models.Friendship, error) {
	target, err := s.users.GetByUsername(ctx, targetUsername)
	if err != nil {
		return nil, err
	}
	if target.ID == userID {
		return nil, models.NewValidationError("Cannot block yourself")
	}

	existing, err := s.friends.GetFriendshipBetweenUsers(ctx, userID, target.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.friends.UpdateStatus(ctx, existing.ID, models.FriendshipStatusBlocked); err != nil {
			return nil, err
		}
		existing.Status = models.FriendshipStatusBlocked
		return existing, nil
	}

	friendship := &models.Friendship{
		RequesterID: userID,
		AddresseeID: target.ID,
		Status:      models.FriendshipStatusBlocked,
	}
	if err := s.friends.Create(ctx, friendship); err != nil {
		return nil, err
	}
	return friendship, nil
}

// BlockFriendship blocks an existing edge by its id. Either party can block,
// whatever the current status.
func (s *FriendService) BlockFriendship(ctx context.Context, userID, friendshipID string) (*models.Friendship, error) {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return nil, err
	}
	if !friendship.Involves(userID) {
		return nil, models.NewForbiddenError("Not a party to this friendship")
	}
	if err := s.friends.UpdateStatus(ctx, friendshipID, models.FriendshipStatusBlocked); err != nil {
		return nil, err
	}
	friendship.Status = models.FriendshipStatusBlocked
	return friendship, nil
}

// Unfriend deletes the accepted edge and all role assignments hanging off it.
func (s *FriendService) Unfriend(ctx context.Context, userID, friendshipID string) error {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return err
	}
	if !friendship.Involves(userID) {
		return models.NewForbiddenError("Not a party to this friendship")
	}
	return s.friends.Delete(ctx, friendshipID)
}

// List returns the user's friendships, optionally filtered by status.
func (s *FriendService) List(ctx context.Context, userID string, status models.FriendshipStatus) ([]models.Friendship, error) {
	return s.friends.ListByUser(ctx, userID, status)
}

// AssignRole tags an accepted friendship with a role. The role must be a
// system role or one of the caller's custom roles. Re-assigning is a no-op.
func (s *FriendService) AssignRole(ctx context.Context, userID, friendshipID, roleName string) error {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return err
	}
	if !friendship.Involves(userID) {
		return models.NewForbiddenError("Not a party to this friendship")
	}
	if friendship.Status != models.FriendshipStatusAccepted {
		return models.NewConflictError("Roles can only be assigned on accepted friendships")
	}
	if _, err := s.roles.GetValidForUser(ctx, userID, roleName); err != nil {
		return err
	}
	return s.friends.AssignRole(ctx, friendshipID, roleName)
}

// RemoveRole detaches a role from a friendship.
func (s *FriendService) RemoveRole(ctx context.Context, userID, friendshipID, roleName string) error {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return err
	}
	if !friendship.Involves(userID) {
		return models.NewForbiddenError("Not a party to this friendship")
	}
	removed, err := s.friends.RemoveRole(ctx, friendshipID, roleName)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundError("Role assignment")
	}
	return nil
}

// ListRoles returns the role names assigned to a friendship the caller is
// party to.
func (s *FriendService) ListRoles(ctx context.Context, userID, friendshipID string) ([]string, error) {
	friendship, err := s.friends.GetByID(ctx, friendshipID)
	if err != nil {
		return nil, err
	}
	if !friendship.Involves(userID) {
		return nil, models.NewForbiddenError("Not a party to this friendship")
	}
	return s.friends.ListRoleNames(ctx, friendshipID)
}

// RolesBetween returns role names on the friendship between two users, or
// nil when there is no accepted friendship.
func (s *FriendService) RolesBetween(ctx context.Context, userID1, userID2 string) ([]string, error) {
	friendship, err := s.friends.GetFriendshipBetweenUsers(ctx, userID1, userID2)
	if err != nil {
		return nil, err
	}
	if friendship == nil || friendship.Status != models.FriendshipStatusAccepted {
		return nil, nil
	}
	return s.friends.ListRoleNames(ctx, friendship.ID)
}
