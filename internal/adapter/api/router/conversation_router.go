package router

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/handler"
	"sharebox/internal/adapter/api/middleware"
	"sharebox/internal/infrastructure/ratelimit"
)

func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()

	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)
	conversations.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))

	conversations.GET("", conversationHandler.ListConversations)
	conversations.GET("/:id", conversationHandler.GetConversation)
	conversations.GET("/:id/messages", conversationHandler.GetMessages)
	conversations.POST("/:id/messages", conversationHandler.SendMessage)
	conversations.PUT("/:id/read", conversationHandler.MarkRead)

	inbox := e.Group("/v1/inbox")
	inbox.Use(authMiddleware.Authenticate)
	inbox.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))
	inbox.GET("/unread", conversationHandler.UnreadSummary)
}
