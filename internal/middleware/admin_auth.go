package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards operator routes with a bearer token checked against a
// bcrypt hash from configuration. An empty hash disables the guard, which
// config only permits in development.
func AdminAuth(tokenHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing operator token")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid operator token")
		}
		return c.Next()
	}
}
