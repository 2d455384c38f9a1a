package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/straymeet/straymeet/internal/application/config"
	"github.com/straymeet/straymeet/internal/infra/ports/http/handlers"
	"github.com/straymeet/straymeet/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/ws", wsHandler.Handle)

	e.Static("/", "web")

	return e
}
