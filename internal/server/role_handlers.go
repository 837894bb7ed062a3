package server

import (
	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListRoles returns the system roles followed by the caller's custom roles,
// filterable by ?type=system|custom.
func (s *Server) ListRoles(c *fiber.Ctx) error {
	roles, err := s.roleService.List(c.UserContext(), currentUser(c).ID, c.Query("type"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"roles": roles})
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateRole defines a custom role owned by the caller.
func (s *Server) CreateRole(c *fiber.Ctx) error {
	var req createRoleRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	role, err := s.roleService.CreateCustomRole(c.UserContext(), currentUser(c).ID, req.Name, req.Description)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}
