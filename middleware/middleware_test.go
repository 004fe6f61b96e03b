package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use("/store/stream", SSETokenMiddleware())
	app.Use(GatewayAuth("s3cret"))
	app.Use(PlayerContextMiddleware(false))
	handler := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"player": c.Locals("player_id")})
	}
	app.Get("/store/value", handler)
	app.Get("/store/stream", handler)
	return app
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestGatewayAuth(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest(http.MethodGet, "/store/value", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/store/value", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/store/value", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, status(t, app, req))

	// query tokens only count on the stream route
	req = httptest.NewRequest(http.MethodGet, "/store/value?token=s3cret", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))
	req = httptest.NewRequest(http.MethodGet, "/store/stream?token=s3cret&player_id=alice", nil)
	assert.Equal(t, http.StatusOK, status(t, app, req))
}

func TestPlayerContextRequired(t *testing.T) {
	app := fiber.New()
	app.Use(PlayerContextMiddleware(true))
	app.Post("/sessions", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("player_id").(string))
	})

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodPost, "/sessions", nil)
	req.Header.Set("X-Player-ID", " alice ")
	assert.Equal(t, http.StatusOK, status(t, app, req))
}
