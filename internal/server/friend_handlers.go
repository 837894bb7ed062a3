package server

import (
	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListFriends returns the caller's friendships, filterable by ?status=.
func (s *Server) ListFriends(c *fiber.Ctx) error {
	status := models.FriendshipStatus(c.Query("status"))
	switch status {
	case "", models.FriendshipStatusPending, models.FriendshipStatusAccepted, models.FriendshipStatusBlocked:
	default:
		return models.RespondWithAppError(c, models.NewValidationError("Unknown friendship status"))
	}
	friendships, err := s.friendService.List(c.UserContext(), currentUser(c).ID, status)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"friendships": friendships})
}

type friendRequestBody struct {
	Username string `json:"username"`
}

// SendFriendRequest creates a pending request, auto-accepting when the
// reverse request is already pending.
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	var req friendRequestBody
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	friendship, err := s.friendService.SendRequest(c.UserContext(), currentUser(c).ID, req.Username)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	status := fiber.StatusCreated
	if friendship.Status == models.FriendshipStatusAccepted {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(friendship)
}

// AcceptFriendRequest accepts a pending request addressed to the caller.
func (s *Server) AcceptFriendRequest(c *fiber.Ctx) error {
	friendship, err := s.friendService.Accept(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(friendship)
}

// RejectFriendRequest discards a pending request addressed to the caller.
func (s *Server) RejectFriendRequest(c *fiber.Ctx) error {
	if err := s.friendService.Reject(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BlockUser blocks a user, stopping requests and routing in both directions.
func (s *Server) BlockUser(c *fiber.Ctx) error {
	var req friendRequestBody
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	friendship, err := s.friendService.Block(c.UserContext(), currentUser(c).ID, req.Username)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(friendship)
}

// BlockFriendship blocks an existing friendship edge by id.
func (s *Server) BlockFriendship(c *fiber.Ctx) error {
	friendship, err := s.friendService.BlockFriendship(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(friendship)
}

// Unfriend removes the friendship and its role assignments.
func (s *Server) Unfriend(c *fiber.Ctx) error {
	if err := s.friendService.Unfriend(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListFriendRoles returns the roles assigned to a friendship the caller is
// party to.
func (s *Server) ListFriendRoles(c *fiber.Ctx) error {
	roles, err := s.friendService.ListRoles(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if roles == nil {
		roles = []string{}
	}
	return c.JSON(fiber.Map{"roles": roles})
}

type assignRoleRequest struct {
	RoleName string `json:"role"`
}

// AssignFriendRole tags the friendship with a system or custom role.
func (s *Server) AssignFriendRole(c *fiber.Ctx) error {
	var req assignRoleRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	if err := s.friendService.AssignRole(c.UserContext(), currentUser(c).ID, c.Params("id"), req.RoleName); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveFriendRole detaches a role from the friendship.
func (s *Server) RemoveFriendRole(c *fiber.Ctx) error {
	if err := s.friendService.RemoveRole(c.UserContext(), currentUser(c).ID, c.Params("id"), c.Params("roleName")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
