package handler

import (
	ws "sharebox/internal/infrastructure/websocket"
	"sharebox/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	requestHandler      *RequestHandler
	healthHandler       *HealthHandler
	webSocketHandler    *WebSocketHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	requestUseCase *usecase.RequestUseCase,
	wsManager *ws.Manager,
	firebaseAuth Pinger,
	wsSendBuffer int,
) {
	conversationHandler = NewConversationHandler(chatUseCase)
	requestHandler = NewRequestHandler(requestUseCase)
	healthHandler = NewHealthHandler(firebaseAuth)
	webSocketHandler = NewWebSocketHandler(wsManager, chatUseCase, wsSendBuffer)
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetRequestHandler() *RequestHandler {
	return requestHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
