package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/meshroom/internal/infra/ports/http/handlers"
	"github.com/qrave1/meshroom/internal/infra/ports/http/middleware"
)

func New(
	iceHandler *handlers.IceHandler,
	roomHandler *handlers.RoomHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	e.GET("/ws", wsHandler.Handle)

	api := e.Group("/api")
	{
		api.GET("/ice", iceHandler.IceServers)

		api.GET("/rooms", roomHandler.ListRooms)
		api.GET("/rooms/:id/history", roomHandler.History)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return e
}
