package repository

import (
	"context"
	"errors"
	"strings"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// GroupRepository defines the interface for group and membership data operations
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id string) (*models.Group, error)
	GetByName(ctx context.Context, name string) (*models.Group, error)
	Update(ctx context.Context, group *models.Group) error
	Delete(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID string) ([]models.Group, error)

	GetMembership(ctx context.Context, groupID, userID string) (*models.GroupMembership, error)
	CreateMembership(ctx context.Context, m *models.GroupMembership) error
	UpdateMembership(ctx context.Context, m *models.GroupMembership) error
	DeleteMembership(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error)
	ListActiveMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error)
	CountActiveMembers(ctx context.Context, groupID string) (int64, error)
	TransferOwnership(ctx context.Context, groupID, oldOwnerID, newOwnerID string) error
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

// Create inserts the group and its owner membership in one transaction.
func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	group.Name = strings.ToLower(group.Name)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			if IsDuplicate(err) {
				return models.NewConflictError("Group name already taken")
			}
			return models.NewInternalError(err)
		}
		owner := &models.GroupMembership{
			GroupID: group.ID,
			UserID:  group.OwnerUserID,
			Role:    models.GroupRoleOwner,
			Status:  models.MembershipStatusActive,
		}
		if err := tx.Create(owner).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *groupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Group")
		}
		return nil, models.NewInternalError(err)
	}
	return &group, nil
}

func (r *groupRepository) GetByName(ctx context.Context, name string) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).
		First(&group, "name = ?", strings.ToLower(name)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Group")
		}
		return nil, models.NewInternalError(err)
	}
	return &group, nil
}

func (r *groupRepository) Update(ctx context.Context, group *models.Group) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// Delete removes the group and cascades its memberships in one transaction.
func (r *groupRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.GroupMembership{}, "group_id = ?", id).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Delete(&models.Group{}, "id = ?", id).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *groupRepository) ListForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	if err := r.db.WithContext(ctx).
		Joins("JOIN group_memberships m ON m.group_id = groups.id").
		Where("m.user_id = ?", userID).
		Order("groups.name ASC").
		Find(&groups).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return groups, nil
}

func (r *groupRepository) GetMembership(ctx context.Context, groupID, userID string) (*models.GroupMembership, error) {
	var m models.GroupMembership
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &m, nil
}

func (r *groupRepository) CreateMembership(ctx context.Context, m *models.GroupMembership) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("User is already in this group")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *groupRepository) UpdateMembership(ctx context.Context, m *models.GroupMembership) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *groupRepository) DeleteMembership(ctx context.Context, groupID, userID string) error {
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMembership{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *groupRepository) ListMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error) {
	var members []models.GroupMembership
	if err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Preload("User").
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return members, nil
}

func (r *groupRepository) ListActiveMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error) {
	var members []models.GroupMembership
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, models.MembershipStatusActive).
		Preload("User").
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return members, nil
}

func (r *groupRepository) CountActiveMembers(ctx context.Context, groupID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.GroupMembership{}).
		Where("group_id = ? AND status = ?", groupID, models.MembershipStatusActive).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// TransferOwnership demotes the old owner to member and promotes the new
// owner, updating the group row, all in one transaction.
func (r *groupRepository) TransferOwnership(ctx context.Context, groupID, oldOwnerID, newOwnerID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GroupMembership{}).
			Where("group_id = ? AND user_id = ?", groupID, oldOwnerID).
			Update("role", models.GroupRoleMember).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Model(&models.GroupMembership{}).
			Where("group_id = ? AND user_id = ?", groupID, newOwnerID).
			Update("role", models.GroupRoleOwner).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Model(&models.Group{}).
			Where("id = ?", groupID).
			Update("owner_user_id", newOwnerID).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}
