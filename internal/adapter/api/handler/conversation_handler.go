package handler

import (
	"github.com/labstack/echo/v4"

	"sharebox/internal/adapter/api/middleware"
	"sharebox/internal/usecase"
	"sharebox/pkg/response"
	"sharebox/pkg/utils"
)

type ConversationHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewConversationHandler(chatUseCase *usecase.ChatUseCase) *ConversationHandler {
	return &ConversationHandler{
		chatUseCase: chatUseCase,
	}
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required,notblank,max=2000"`
}

// ListConversations returns the viewer's accepted requests, newest first.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	conversations, err := h.chatUseCase.ListConversations(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversations)
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversation, err := h.chatUseCase.GetConversation(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversation)
}

// GetMessages returns the thread and marks what it returns read. Without
// ?limit the whole thread is returned.
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	params := utils.GetPaginationParams(c)
	messages, total, err := h.chatUseCase.GetMessages(c.Request().Context(), middleware.UserID(c), c.Param("id"), params)
	if err != nil {
		return response.Error(c, err)
	}

	if params.PageSize == 0 {
		return response.Success(c, messages)
	}
	return response.Paginated(c, messages, total, params.Page, params.PageSize)
}

func (h *ConversationHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), middleware.UserID(c), usecase.SendMessageInput{
		ConversationID: c.Param("id"),
		Text:           req.Text,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	marked, err := h.chatUseCase.MarkConversationRead(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"marked": marked})
}

// UnreadSummary is the one-shot badge for clients without a websocket.
func (h *ConversationHandler) UnreadSummary(c echo.Context) error {
	summary, err := h.chatUseCase.UnreadSummary(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, summary)
}
