// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerContextMiddleware extracts the calling player and session set by the client.
// requirePlayer rejects requests that do not name a player.
func PlayerContextMiddleware(requirePlayer bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := strings.TrimSpace(c.Get("X-Player-ID"))
		sessionID := strings.TrimSpace(c.Get("X-Session-ID"))

		if requirePlayer && playerID == "" {
			log.Printf("❌ [PLAYER_CTX] X-Player-ID required but missing on route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Player-ID",
			})
		}

		// Attach to ctx for handlers
		c.Locals("player_id", playerID)
		c.Locals("session_id", sessionID)

		return c.Next()
	}
}
