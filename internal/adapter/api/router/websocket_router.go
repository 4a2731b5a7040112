package router

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/handler"
	"sharebox/internal/adapter/api/middleware"
)

// SetupWebSocketRouter mounts /ws. The token comes from ?token= because
// browsers cannot set headers on the handshake.
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", handler.GetWebSocketHandler().HandleWebSocket, authMiddleware.AuthenticateQuery)
}
