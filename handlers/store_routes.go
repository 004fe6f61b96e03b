// handlers/store_routes.go
package handlers

import (
	"duel-arena/middleware"
	"duel-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupStoreRoutes(app *fiber.App, storeService *services.StoreService, sessionService *services.SessionService) {
	// Document access
	st := app.Group("/store", middleware.PlayerContextMiddleware(false))
	st.Get("/value", storeService.GetValue)
	st.Put("/value", storeService.PutValue)
	st.Delete("/value", storeService.DeleteValue)
	st.Post("/push", storeService.PushValue)
	st.Get("/stream", storeService.Stream)

	// Client connections and their remove-on-disconnect hooks
	sessions := app.Group("/sessions", middleware.PlayerContextMiddleware(true))
	sessions.Post("/", sessionService.OpenSession)
	sessions.Post("/:id/heartbeat", sessionService.Heartbeat)
	sessions.Post("/:id/on-disconnect", sessionService.RegisterHook)
	sessions.Delete("/:id", sessionService.CloseSession)
}
