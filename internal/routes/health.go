package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := fiber.Map{}
		healthy := true

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		check := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				return
			}
			status[name] = "ok"
		}
		if d.DB != nil {
			check("postgres", d.DB.Ping)
		}
		if d.SQLite != nil {
			check("sqlite", d.SQLite.PingContext)
		}
		if d.Cache != nil {
			check("redis", func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() })
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
