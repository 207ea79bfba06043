package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
)

// RequestContext copies the request id set by the requestid middleware into
// the user context so services can log it.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requestID := requestID(c); requestID != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		}
		return c.Next()
	}
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
