package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharebox/internal/adapter/api/middleware"
	ws "sharebox/internal/infrastructure/websocket"
	"sharebox/internal/usecase"
)

func asUser(userID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != "" {
				c.Set(middleware.ContextUserID, userID)
			}
			return next(c)
		}
	}
}

func readEvent(t *testing.T, conn *gorillaws.Conn) ws.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ws.WSMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestWebSocketHandler_SessionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := ws.NewManager()
	manager.Start(ctx)

	repo := newMemRepo(acceptedConversation("A", "me", "alice"))
	chat := usecase.NewChatUseCase(repo, memUsers{}, nil, usecase.InboxOptions{})
	h := NewWebSocketHandler(manager, chat, 16)

	e := echo.New()
	e.GET("/ws", h.HandleWebSocket, asUser("me"))
	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, ws.MessageTypeInboxUpdate, first.Type)
	require.Eventually(t, func() bool { return manager.ConnectionCount("me") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, ws.MessageTypePong, readEvent(t, conn).Type)

	manager.SendToUser("me", []byte(`{"type":"request_status"}`))
	assert.Equal(t, ws.MessageTypeRequestStatus, readEvent(t, conn).Type)

	conn.Close()
	require.Eventually(t, func() bool { return manager.ConnectionCount("me") == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return repo.liveSubs() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_RequiresUser(t *testing.T) {
	h := NewWebSocketHandler(ws.NewManager(), nil, 16)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	if assert.NoError(t, h.HandleWebSocket(e.NewContext(req, rec))) {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
