package server

import (
	"mahilo/internal/models"
	"mahilo/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePolicy adds a policy owned by the caller.
func (s *Server) CreatePolicy(c *fiber.Ctx) error {
	var req service.CreatePolicyInput
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	policy, err := s.policyService.Create(c.UserContext(), currentUser(c).ID, req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(policy)
}

// ListPolicies returns the caller's policies, filterable by ?scope= and
// ?targetId=.
func (s *Server) ListPolicies(c *fiber.Ctx) error {
	policies, err := s.policyService.List(c.UserContext(), currentUser(c).ID,
		models.PolicyScope(c.Query("scope")), c.Query("targetId"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"policies": policies})
}

// GetPolicy returns one policy the caller may manage.
func (s *Server) GetPolicy(c *fiber.Ctx) error {
	policy, err := s.policyService.Get(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(policy)
}

// UpdatePolicy patches content, priority or enabled.
func (s *Server) UpdatePolicy(c *fiber.Ctx) error {
	var req service.UpdatePolicyInput
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	policy, err := s.policyService.Update(c.UserContext(), currentUser(c).ID, c.Params("id"), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(policy)
}

// DeletePolicy removes a policy.
func (s *Server) DeletePolicy(c *fiber.Ctx) error {
	if err := s.policyService.Delete(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SendContext returns the policy-context preview for a recipient: what the
// caller's funnel would check, the recipient's reply expectations, and the
// recent thread.
func (s *Server) SendContext(c *fiber.Ctx) error {
	snapshot, err := s.contextService.ForRecipient(c.UserContext(), currentUser(c), c.Params("username"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(snapshot)
}
