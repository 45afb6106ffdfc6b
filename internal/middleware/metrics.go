package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/apierr"
	"github.com/trailpack/trailpack/internal/metrics"
)

// Metrics records request latency by route template.
func Metrics(m *metrics.Collectors) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// the error handler has not written the response yet
			status, _ = apierr.Classify(err)
		}
		m.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
