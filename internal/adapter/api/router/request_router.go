package router

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/handler"
	"sharebox/internal/adapter/api/middleware"
	"sharebox/internal/infrastructure/ratelimit"
)

func SetupRequestRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	requestHandler := handler.GetRequestHandler()

	requests := e.Group("/v1/requests")
	requests.Use(authMiddleware.Authenticate)
	requests.PUT("/:id/status", requestHandler.UpdateStatus, middleware.RateLimit(limiter, ratelimit.ActionUpdateStatus))
}
