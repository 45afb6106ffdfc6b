package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/apierr"
	"github.com/trailpack/trailpack/internal/identity"
)

// Handler exposes auth endpoints for signup/signin/signout and the caller's profile.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
}

// SignUp registers an account and returns a session.
func (h *Handler) SignUp(c *fiber.Ctx) error {
	var req signUpRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	sess, err := h.svc.SignUp(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password}, req.DisplayName)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(sess)
}

// SignIn validates credentials and returns a session.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	sess, err := h.svc.SignIn(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

// SignOut invalidates existing tokens by bumping the token version.
func (h *Handler) SignOut(c *fiber.Ctx) error {
	if err := h.svc.SignOut(c.UserContext(), userID(c)); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me returns the caller's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	profile, err := h.svc.Profile(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

// UpdateProfile changes the caller's display name.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	profile, err := h.svc.UpdateProfile(c.UserContext(), userID(c), req.DisplayName)
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
