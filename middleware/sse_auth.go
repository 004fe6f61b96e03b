// middleware/sse_auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SSETokenMiddleware lets EventSource clients, which cannot set headers, pass the
// bearer token and player id as `token` / `player_id` query params. It must run before
// the gateway check.
//
// Usage:
//	app.Use("/store/stream", middleware.SSETokenMiddleware())
func SSETokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			if token := strings.TrimSpace(c.Query("token")); token != "" {
				c.Request().Header.Set("Authorization", "Bearer "+token)
			}
		}
		if c.Get("X-Player-ID") == "" {
			if playerID := strings.TrimSpace(c.Query("player_id")); playerID != "" {
				c.Request().Header.Set("X-Player-ID", playerID)
			}
		}
		return c.Next()
	}
}
