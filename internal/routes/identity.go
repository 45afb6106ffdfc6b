package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/identity"
)

// RegisterIdentityRoutes wires public profile lookup.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/users/:uid", h.Profile)
}
