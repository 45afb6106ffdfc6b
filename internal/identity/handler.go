package identity

import (
	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Profile returns the public profile for :uid.
func (h *Handler) Profile(c *fiber.Ctx) error {
	user, err := h.service.Get(c.UserContext(), c.Params("uid"))
	if err != nil {
		return err
	}
	return c.JSON(user.Profile())
}
