package server

import (
	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
)

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InviteOnly  bool   `json:"inviteOnly,omitempty"`
}

// CreateGroup makes a group with the caller as owner.
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	group, err := s.groupService.Create(c.UserContext(), currentUser(c).ID, req.Name, req.Description, req.InviteOnly)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// ListMyGroups returns the groups the caller belongs to.
func (s *Server) ListMyGroups(c *fiber.Ctx) error {
	groups, err := s.groupService.ListMine(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"groups": groups})
}

// GetGroup returns a group by id.
func (s *Server) GetGroup(c *fiber.Ctx) error {
	group, err := s.groupService.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(group)
}

// DeleteGroup removes the group and its memberships. Owner only.
func (s *Server) DeleteGroup(c *fiber.Ctx) error {
	if err := s.groupService.Delete(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListGroupMembers lists memberships. Member only.
func (s *Server) ListGroupMembers(c *fiber.Ctx) error {
	members, err := s.groupService.Members(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"members": members})
}

type inviteRequest struct {
	Username string `json:"username"`
}

// InviteToGroup invites a user. Admin only.
func (s *Server) InviteToGroup(c *fiber.Ctx) error {
	var req inviteRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	membership, err := s.groupService.Invite(c.UserContext(), currentUser(c).ID, c.Params("id"), req.Username)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(membership)
}

// JoinGroup activates an invitation or joins an open group.
func (s *Server) JoinGroup(c *fiber.Ctx) error {
	membership, err := s.groupService.Join(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(membership)
}

// LeaveGroup removes the caller's membership.
func (s *Server) LeaveGroup(c *fiber.Ctx) error {
	if err := s.groupService.Leave(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveGroupMember kicks a member.
func (s *Server) RemoveGroupMember(c *fiber.Ctx) error {
	if err := s.groupService.Remove(c.UserContext(), currentUser(c).ID, c.Params("id"), c.Params("userId")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type memberRoleRequest struct {
	Role models.GroupRole `json:"role"`
}

// SetGroupMemberRole promotes or demotes a member. Owner only.
func (s *Server) SetGroupMemberRole(c *fiber.Ctx) error {
	var req memberRoleRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	membership, err := s.groupService.SetRole(c.UserContext(), currentUser(c).ID, c.Params("id"), c.Params("userId"), req.Role)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(membership)
}

type transferRequest struct {
	NewOwnerUserID string `json:"newOwnerUserId"`
}

// TransferGroupOwnership hands the group to another active member.
func (s *Server) TransferGroupOwnership(c *fiber.Ctx) error {
	var req transferRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	if err := s.groupService.TransferOwnership(c.UserContext(), currentUser(c).ID, c.Params("id"), req.NewOwnerUserID); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListGroupPolicies returns the group's shared policies. Admin only.
func (s *Server) ListGroupPolicies(c *fiber.Ctx) error {
	policies, err := s.policyService.ListForGroup(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"policies": policies})
}
