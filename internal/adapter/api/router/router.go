package router

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/middleware"
	"sharebox/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupConversationRouter(e, authMiddleware, limiter)
	SetupRequestRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, authMiddleware)
	SetupHealthRouter(e)
}
