package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/auth"
	"github.com/trailpack/trailpack/internal/identity"
)

// TokenVerifier resolves a bearer token to its user.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.User, error)
}

// JWTAuth returns a middleware that validates bearer access tokens, including
// their token version, and stores the subject in the "user_id" local.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return auth.ErrUnauthenticated
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		user, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.Locals("user_id", user.ID)
		c.Locals("token_version", user.TokenVersion)
		return c.Next()
	}
}
