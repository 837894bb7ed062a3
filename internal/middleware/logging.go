package middleware

import (
	"log/slog"
	"time"

	"mahilo/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// RequestLogger logs one structured line per request. Payloads are never
// logged; the registry treats message bodies as sensitive even in trusted
// deployments.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok && rid != "" {
			attrs = append(attrs, slog.String("request_id", rid))
		}
		if user := CurrentUser(c); user != nil {
			attrs = append(attrs, slog.String("user_id", user.ID))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			observability.Logger().Error("request", attrs...)
			return err
		}

		if c.Response().StatusCode() >= 500 {
			observability.Logger().Error("request", attrs...)
		} else {
			observability.Logger().Info("request", attrs...)
		}
		return nil
	}
}
