package server

import (
	"mahilo/internal/models"
	"mahilo/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RegisterConnection registers or refreshes an agent callback endpoint.
// The callback secret is returned only when newly minted.
func (s *Server) RegisterConnection(c *fiber.Ctx) error {
	var req service.RegisterConnectionInput
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	result, err := s.connService.Register(c.UserContext(), currentUser(c).ID, req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	status := fiber.StatusCreated
	if result.CallbackSecret == "" {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(result)
}

// ListConnections returns the caller's connections in routing order.
func (s *Server) ListConnections(c *fiber.Ctx) error {
	conns, err := s.connService.List(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"connections": conns})
}

// PingConnection probes the connection's callback endpoint.
func (s *Server) PingConnection(c *fiber.Ctx) error {
	conn, err := s.connService.Ping(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(conn)
}

type connectionStatusRequest struct {
	Status models.ConnectionStatus `json:"status"`
}

// SetConnectionStatus activates or deactivates a connection.
func (s *Server) SetConnectionStatus(c *fiber.Ctx) error {
	var req connectionStatusRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	conn, err := s.connService.SetStatus(c.UserContext(), currentUser(c).ID, c.Params("id"), req.Status)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(conn)
}

// DeleteConnection removes a connection.
func (s *Server) DeleteConnection(c *fiber.Ctx) error {
	if err := s.connService.Delete(c.UserContext(), currentUser(c).ID, c.Params("id")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ContactConnections lists a friend's active agents and public keys.
func (s *Server) ContactConnections(c *fiber.Ctx) error {
	contact, err := s.userRepo.GetByUsername(c.UserContext(), c.Params("username"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	conns, err := s.connService.ContactConnections(c.UserContext(), currentUser(c).ID, contact.ID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"connections": conns})
}
