package server

import (
	"strconv"
	"time"

	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessage accepts a message for delivery. The first delivery attempt
// happens before the response, so status reflects the real outcome.
// Policy-rejected sends answer 403 with the persisted rejection reason.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	var req service.SendRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithAppError(c, err)
	}
	result, err := s.router.Send(c.UserContext(), currentUser(c), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	resp := fiber.Map{
		"messageId": result.Message.ID,
		"status":    result.Message.Status,
	}
	if result.Deduplicated {
		resp["deduplicated"] = true
	}
	if len(result.Warnings) > 0 {
		resp["warnings"] = result.Warnings
	}
	if result.Message.Status == models.MessageStatusRejected {
		if result.Message.RejectionReason != nil {
			resp["rejectionReason"] = *result.Message.RejectionReason
		}
		return c.Status(fiber.StatusForbidden).JSON(resp)
	}
	return c.JSON(resp)
}

// parseSince accepts either unix seconds or an RFC 3339 timestamp.
func parseSince(raw string) (*time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, models.NewValidationError("since must be unix seconds or an RFC 3339 timestamp")
	}
	return &t, nil
}

// MessageHistory returns the caller's history, newest first. Query params:
// direction (sent|received|both), since (unix seconds or RFC 3339), limit.
// Received rows carry a preview of the policies a reply would face.
func (s *Server) MessageHistory(c *fiber.Ctx) error {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		since = t
	}
	user := currentUser(c)
	msgs, err := s.router.History(c.UserContext(), user.ID,
		repository.HistoryDirection(c.Query("direction")), since, c.QueryInt("limit"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	entries, err := s.contextService.EnrichHistory(c.UserContext(), user, msgs)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"messages": entries})
}

// GetMessage returns a message the caller is party to, with fan-out children
// for the sender of a group message.
func (s *Server) GetMessage(c *fiber.Ctx) error {
	msg, children, err := s.router.GetMessage(c.UserContext(), currentUser(c).ID, c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	resp := fiber.Map{"message": msg}
	if children != nil {
		resp["deliveries"] = children
	}
	return c.JSON(resp)
}
