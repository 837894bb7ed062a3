package repository

import (
	"context"
	"errors"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// FriendRepository defines the interface for friendship and friend-role data operations
type FriendRepository interface {
	Create(ctx context.Context, friendship *models.Friendship) error
	GetByID(ctx context.Context, id string) (*models.Friendship, error)
	GetFriendshipBetweenUsers(ctx context.Context, userID1, userID2 string) (*models.Friendship, error)
	ListByUser(ctx context.Context, userID string, status models.FriendshipStatus) ([]models.Friendship, error)
	UpdateStatus(ctx context.Context, friendshipID string, status models.FriendshipStatus) error
	Delete(ctx context.Context, friendshipID string) error
	AreFriends(ctx context.Context, userID1, userID2 string) (bool, error)

	AssignRole(ctx context.Context, friendshipID, roleName string) error
	RemoveRole(ctx context.Context, friendshipID, roleName string) (bool, error)
	ListRoleNames(ctx context.Context, friendshipID string) ([]string, error)
	ListRolesForPair(ctx context.Context, userID1, userID2 string) ([]string, error)
}

type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

func (r *friendRepository) Create(ctx context.Context, friendship *models.Friendship) error {
	if err := r.db.WithContext(ctx).Create(friendship).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("Friendship already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *friendRepository) GetByID(ctx context.Context, id string) (*models.Friendship, error) {
	var friendship models.Friendship
	if err := r.db.WithContext(ctx).
		Preload("Requester").Preload("Addressee").
		First(&friendship, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Friendship")
		}
		return nil, models.NewInternalError(err)
	}
	return &friendship, nil
}

func (r *friendRepository) GetFriendshipBetweenUsers(ctx context.Context, userID1, userID2 string) (*models.Friendship, error) {
	var friendship models.Friendship

	// Find friendship where users are either requester/addressee in any order
	if err := r.db.WithContext(ctx).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)",
			userID1, userID2, userID2, userID1).
		Preload("Requester").
		Preload("Addressee").
		First(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No friendship exists
		}
		return nil, models.NewInternalError(err)
	}
	return &friendship, nil
}

func (r *friendRepository) ListByUser(ctx context.Context, userID string, status models.FriendshipStatus) ([]models.Friendship, error) {
	var friendships []models.Friendship
	q := r.db.WithContext(ctx).
		Where("requester_id = ? OR addressee_id = ?", userID, userID).
		Preload("Requester").
		Preload("Addressee")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&friendships).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return friendships, nil
}

func (r *friendRepository) UpdateStatus(ctx context.Context, friendshipID string, status models.FriendshipStatus) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("id = ?", friendshipID).
		Update("status", status).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *friendRepository) Delete(ctx context.Context, friendshipID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.FriendRole{}, "friendship_id = ?", friendshipID).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Delete(&models.Friendship{}, "id = ?", friendshipID).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *friendRepository) AreFriends(ctx context.Context, userID1, userID2 string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("status = ? AND ((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))",
			models.FriendshipStatusAccepted, userID1, userID2, userID2, userID1).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// AssignRole is idempotent: a duplicate assignment is not an error.
func (r *friendRepository) AssignRole(ctx context.Context, friendshipID, roleName string) error {
	role := &models.FriendRole{FriendshipID: friendshipID, RoleName: roleName}
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		if IsDuplicate(err) {
			return nil
		}
		return models.NewInternalError(err)
	}
	return nil
}

// RemoveRole returns false when the role was not assigned.
func (r *friendRepository) RemoveRole(ctx context.Context, friendshipID, roleName string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("friendship_id = ? AND role_name = ?", friendshipID, roleName).
		Delete(&models.FriendRole{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListRolesForPair returns role names on the accepted friendship between the
// pair, or nil when none exists.
func (r *friendRepository) ListRolesForPair(ctx context.Context, userID1, userID2 string) ([]string, error) {
	friendship, err := r.GetFriendshipBetweenUsers(ctx, userID1, userID2)
	if err != nil {
		return nil, err
	}
	if friendship == nil || friendship.Status != models.FriendshipStatusAccepted {
		return nil, nil
	}
	return r.ListRoleNames(ctx, friendship.ID)
}

func (r *friendRepository) ListRoleNames(ctx context.Context, friendshipID string) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).
		Model(&models.FriendRole{}).
		Where("friendship_id = ?", friendshipID).
		Order("role_name ASC").
		Pluck("role_name", &names).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return names, nil
}
