package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/middleware"
	ws "sharebox/internal/infrastructure/websocket"
	"sharebox/internal/usecase"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
	"sharebox/pkg/response"
)

type WebSocketHandler struct {
	wsManager   *ws.Manager
	chatUseCase *usecase.ChatUseCase
	sendBuffer  int
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, chatUseCase *usecase.ChatUseCase, sendBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:   wsManager,
		chatUseCase: chatUseCase,
		sendBuffer:  sendBuffer,
	}
}

// HandleWebSocket upgrades the connection and runs one ChatSession on it
// until the client goes away.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket: upgrade failed for user %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(userID, conn, h.sendBuffer)
	session := NewChatSession(h.chatUseCase, userID, client)

	h.wsManager.Register <- client
	go client.WritePump()

	if err := session.Start(); err != nil {
		logger.Error("WebSocket: inbox for user %s failed to start: %v", userID, err)
		session.emitError("", err)
		h.wsManager.Unregister <- client
		return nil
	}

	go func() {
		client.ReadPump(h.wsManager, session.Handle)
		session.Close()
	}()

	return nil
}
