package service

import (
	"context"

	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/validation"
)

// RoleService manages system and user-defined roles.
type RoleService struct {
	roles repository.RoleRepository
}

// NewRoleService creates a new role service
func NewRoleService(roles repository.RoleRepository) *RoleService {
	return &RoleService{roles: roles}
}

// CreateCustomRole adds a user-defined role. System role names are reserved.
func (s *RoleService) CreateCustomRole(ctx context.Context, userID, name, description string) (*models.Role, error) {
	if err := validation.ValidateRoleName(name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if models.IsSystemRoleName(name) {
		return nil, models.NewConflictError("Role name is reserved")
	}
	role := &models.Role{
		Name:        name,
		Description: description,
		UserID:      &userID,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// List returns the system roles followed by the user's custom roles. The
// typeFilter narrows the result to "system" or "custom"; empty means both.
func (s *RoleService) List(ctx context.Context, userID, typeFilter string) ([]models.Role, error) {
	switch typeFilter {
	case "", "system", "custom":
	default:
		return nil, models.NewValidationError("type must be system or custom")
	}

	var out []models.Role
	if typeFilter == "" || typeFilter == "system" {
		system, err := s.roles.ListSystem(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, system...)
	}
	if typeFilter == "" || typeFilter == "custom" {
		custom, err := s.roles.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, custom...)
	}
	return out, nil
}
