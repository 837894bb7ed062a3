// Package middleware contains fiber middleware for authentication, rate
// limiting and request logging.
package middleware

import (
	"strings"

	"mahilo/internal/models"
	"mahilo/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UserLocalsKey is where the authenticated user is stored on the request.
const UserLocalsKey = "user"

// APIKeyAuth authenticates requests via "Authorization: Bearer <key>" or the
// X-API-Key header. Every failure is the same opaque 401.
func APIKeyAuth(auth *service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" {
			header := c.Get(fiber.HeaderAuthorization)
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				key = after
			}
		}
		if key == "" {
			return models.RespondWithAppError(c, service.ErrInvalidAPIKey)
		}

		user, err := auth.VerifyAPIKey(c.UserContext(), key)
		if err != nil {
			return models.RespondWithAppError(c, service.ErrInvalidAPIKey)
		}
		c.Locals(UserLocalsKey, user)
		return c.Next()
	}
}

// CurrentUser returns the authenticated user set by APIKeyAuth, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(UserLocalsKey).(*models.User)
	return user
}
