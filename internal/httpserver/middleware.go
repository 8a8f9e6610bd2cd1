package httpserver

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cypher-asi/z-billing/internal/httpserver/httputil"
	"github.com/cypher-asi/z-billing/internal/ids"
)

const userIDLocal = "authenticated_user_id"

// serviceAuth requires the shared service API key as a bearer token.
func serviceAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing bearer token", nil)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return httputil.WriteError(c, fiber.StatusForbidden, httputil.CodeForbidden, "invalid service api key", nil)
		}
		return c.Next()
	}
}

// authenticatedUser resolves the caller's user id from the
// X-Authenticated-User header set by the auth edge. Token verification
// is the edge's job; this service only parses the identifier.
func authenticatedUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get("X-Authenticated-User")
		if raw == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing authenticated user", nil)
		}
		userID, err := ids.ParseUserID(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "malformed authenticated user", nil)
		}
		c.Locals(userIDLocal, userID)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) (ids.UserID, bool) {
	userID, ok := c.Locals(userIDLocal).(ids.UserID)
	return userID, ok
}
