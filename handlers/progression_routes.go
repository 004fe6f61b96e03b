// handlers/progression_routes.go
package handlers

import (
	"errors"
	"log"

	"duel-arena/arena"
	"duel-arena/models"

	"github.com/gofiber/fiber/v2"
)

// SetupPlayerRoutes exposes read-only views over the shared store for dashboards.
func SetupPlayerRoutes(app *fiber.App, a *arena.Arena) {
	app.Get("/players/:id/progress", func(c *fiber.Ctx) error {
		prog, err := a.Progress(c.UserContext(), c.Params("id"))
		if err != nil {
			log.Printf("❌ [PLAYERS] progress for %s: %v", c.Params("id"), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load progress",
				"cause": err.Error(),
			})
		}
		return c.JSON(prog)
	})

	app.Get("/players/:id/balances", func(c *fiber.Ctx) error {
		out := fiber.Map{}
		for _, cur := range []models.Currency{models.CurrencyCoins, models.CurrencyDiamonds} {
			bal, err := a.Balance(c.UserContext(), c.Params("id"), cur)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "failed to load balance",
					"cause": err.Error(),
				})
			}
			out[string(cur)] = bal
		}
		return c.JSON(out)
	})

	// Lobby as a given player would see it right now
	app.Get("/lobby", func(c *fiber.Ctx) error {
		snap, err := a.Store().Get(c.UserContext(), "presence")
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		players := arena.AvailablePlayers(snap, c.Query("self"), a.Clock().Now(), a.PresenceTTL())
		return c.JSON(fiber.Map{"players": players, "count": len(players)})
	})

	app.Get("/matches/:id", func(c *fiber.Ctx) error {
		m, err := a.GetMatch(c.UserContext(), c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, arena.ErrMatchGone):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
			case errors.Is(err, arena.ErrInvalidRecord):
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(m)
	})
}
