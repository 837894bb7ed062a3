package repository

import (
	"context"
	"errors"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// RoleRepository defines the interface for role data operations
type RoleRepository interface {
	EnsureSystemRoles(ctx context.Context) error
	Create(ctx context.Context, role *models.Role) error
	GetValidForUser(ctx context.Context, userID, name string) (*models.Role, error)
	ListSystem(ctx context.Context) ([]models.Role, error)
	ListByUser(ctx context.Context, userID string) ([]models.Role, error)
}

type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

// EnsureSystemRoles seeds the built-in roles. Safe to run on every boot.
func (r *roleRepository) EnsureSystemRoles(ctx context.Context) error {
	for _, name := range models.SystemRoleNames {
		role := &models.Role{Name: name, IsSystem: true}
		if err := r.db.WithContext(ctx).
			Where("name = ? AND user_id IS NULL", name).
			FirstOrCreate(role).Error; err != nil && !IsDuplicate(err) {
			return models.NewInternalError(err)
		}
	}
	return nil
}

func (r *roleRepository) Create(ctx context.Context, role *models.Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("Role already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// GetValidForUser resolves name within the set of system roles plus the
// user's own custom roles.
func (r *roleRepository) GetValidForUser(ctx context.Context, userID, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).
		Where("name = ? AND (user_id IS NULL OR user_id = ?)", name, userID).
		First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Role")
		}
		return nil, models.NewInternalError(err)
	}
	return &role, nil
}

func (r *roleRepository) ListSystem(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.WithContext(ctx).
		Where("user_id IS NULL").
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return roles, nil
}

func (r *roleRepository) ListByUser(ctx context.Context, userID string) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return roles, nil
}
