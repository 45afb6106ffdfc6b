package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints. Sign-out and profile
// routes require a verified token.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/signup", h.SignUp)
	group.Post("/signin", rateLimiter, h.SignIn)
	group.Post("/signout", jwtmw, h.SignOut)
	group.Get("/me", jwtmw, h.Me)
	group.Patch("/profile", jwtmw, h.UpdateProfile)
}
