package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sharebox/internal/adapter/api"
	"sharebox/internal/adapter/api/handler"
	apimiddleware "sharebox/internal/adapter/api/middleware"
	"sharebox/internal/adapter/api/router"
	"sharebox/internal/adapter/repository"
	"sharebox/internal/infrastructure/firebase"
	"sharebox/internal/infrastructure/ratelimit"
	"sharebox/internal/infrastructure/websocket"
	"sharebox/internal/usecase"
	"sharebox/pkg/config"
	"sharebox/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := firebase.NewClients(ctx, cfg.Firebase)
	if err != nil {
		logger.Error("Failed to initialize Firebase: %v", err)
		os.Exit(1)
	}
	defer clients.Close()

	firebaseAuthClient := firebase.NewFirebaseAuthClient(clients.Auth)
	conversationRepo := repository.NewFirestoreConversationRepository(clients.Firestore)
	userRepo := repository.NewFirestoreUserRepository(clients.Firestore, firebaseAuthClient)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage:  ratelimit.PerMinute(cfg.Chat.SendMessagePerMinute),
		ratelimit.ActionUpdateStatus: ratelimit.PerMinute(10),
		ratelimit.ActionHTTP:         ratelimit.PerMinute(120),
	})
	limiter.StartCleanupRoutine(ctx, 30*time.Minute)

	chatUseCase := usecase.NewChatUseCase(conversationRepo, userRepo, limiter, usecase.InboxOptions{
		ResubscribeInterval:  cfg.Inbox.ResubscribeInterval,
		ResubscribeBurst:     cfg.Inbox.ResubscribeBurst,
		WatcherWarnThreshold: cfg.Inbox.WatcherWarnThreshold,
	})
	requestUseCase := usecase.NewRequestUseCase(conversationRepo, wsManager)

	handler.Setup(chatUseCase, requestUseCase, wsManager, firebaseAuthClient, cfg.Chat.WSSendBuffer)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient)
	router.Setup(e, authMiddleware, limiter)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}
