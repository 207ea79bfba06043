package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// Checker probes one configured dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// RegisterHealthRoutes mounts /livez and /readyz. Only dependencies that are
// configured are passed in, so a broker-less deployment is still ready.
func RegisterHealthRoutes(app fiber.Router, checks ...Checker) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks ...Checker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		results := fiber.Map{}
		ready := true
		for _, check := range checks {
			status := "ok"
			if err := check.Check(ctx); err != nil {
				status = "down"
				ready = false
			}
			results[check.Name()] = status
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
