package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sharebox/internal/domain/entity"
	ws "sharebox/internal/infrastructure/websocket"
	"sharebox/internal/usecase"
	apperrors "sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

const sessionRequestTimeout = 10 * time.Second

// Outbound is where a session writes its events. *ws.Client satisfies it.
type Outbound interface {
	Enqueue(message []byte) bool
}

// ChatSession is the state of one websocket connection: the viewer's live
// inbox plus at most one open conversation.
type ChatSession struct {
	userID string
	chat   *usecase.ChatUseCase
	out    Outbound
	log    zerolog.Logger

	mu     sync.Mutex
	inbox  *usecase.Inbox
	view   *usecase.ConversationView
	closed bool
}

type messagesEvent struct {
	Messages []*entity.Message `json:"messages"`
	Stale    bool              `json:"stale"`
}

type messageSentEvent struct {
	TempID  string          `json:"temp_id,omitempty"`
	Message *entity.Message `json:"message"`
}

func NewChatSession(chat *usecase.ChatUseCase, userID string, out Outbound) *ChatSession {
	return &ChatSession{
		userID: userID,
		chat:   chat,
		out:    out,
		log:    logger.With(map[string]string{"component": "chat_session", "user_id": userID}),
	}
}

// Start opens the inbox. The first inbox_update is pushed before it returns.
func (s *ChatSession) Start() error {
	inbox, err := s.chat.OpenInbox(s.userID, func(state usecase.InboxState) {
		s.emit(ws.MessageTypeInboxUpdate, "", state)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		inbox.Close()
		return apperrors.Conflict("Session already closed")
	}
	s.inbox = inbox
	return nil
}

// Handle processes one inbound frame.
func (s *ChatSession) Handle(raw []byte) {
	msg, err := ws.DecodeMessage(raw)
	if err != nil {
		s.emitError("", err)
		return
	}

	switch msg.Type {
	case ws.MessageTypePing:
		s.emit(ws.MessageTypePong, "", map[string]string{"status": "alive"})

	case ws.MessageTypeOpenConversation:
		s.openConversation(msg.ConversationID)

	case ws.MessageTypeCloseConversation:
		s.closeConversation(msg.ConversationID)

	case ws.MessageTypeSendMessage:
		s.sendMessage(msg)

	default:
		s.log.Warn().Str("type", msg.Type).Msg("unknown websocket message type")
		s.emitError("", apperrors.BadRequest("Unknown message type "+msg.Type, nil))
	}
}

func (s *ChatSession) openConversation(conversationID string) {
	if conversationID == "" {
		s.emitError("", apperrors.BadRequest("conversation_id is required", nil))
		return
	}

	s.mu.Lock()
	if s.view != nil && s.view.ConversationID() == conversationID {
		s.mu.Unlock()
		return
	}
	previous := s.view
	s.view = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionRequestTimeout)
	defer cancel()

	view, err := s.chat.OpenConversationView(ctx, s.userID, conversationID, func(id string, messages []*entity.Message, stale bool) {
		if messages == nil {
			messages = []*entity.Message{}
		}
		s.emit(ws.MessageTypeMessages, id, messagesEvent{Messages: messages, Stale: stale})
	})
	if err != nil {
		s.emitError(conversationID, err)
		return
	}

	s.mu.Lock()
	if s.closed || s.view != nil {
		s.mu.Unlock()
		view.Close()
		return
	}
	s.view = view
	s.mu.Unlock()

	s.log.Debug().Str("conversation_id", conversationID).Msg("conversation opened")
}

func (s *ChatSession) closeConversation(conversationID string) {
	s.mu.Lock()
	view := s.view
	if view == nil || (conversationID != "" && view.ConversationID() != conversationID) {
		s.mu.Unlock()
		return
	}
	s.view = nil
	s.mu.Unlock()

	view.Close()
}

func (s *ChatSession) sendMessage(msg *ws.WSMessage) {
	var data ws.SendMessageData
	if err := ws.DecodeData(msg, &data); err != nil {
		s.emitError(msg.ConversationID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionRequestTimeout)
	defer cancel()

	message, err := s.chat.SendMessage(ctx, s.userID, usecase.SendMessageInput{
		ConversationID: msg.ConversationID,
		Text:           data.Text,
	})
	if err != nil {
		s.emitError(msg.ConversationID, err)
		return
	}
	s.emit(ws.MessageTypeMessageSent, msg.ConversationID, messageSentEvent{TempID: data.TempID, Message: message})
}

// Close tears down the inbox and any open view. Idempotent.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	inbox, view := s.inbox, s.view
	s.inbox, s.view = nil, nil
	s.mu.Unlock()

	if view != nil {
		view.Close()
	}
	if inbox != nil {
		inbox.Close()
	}
	s.log.Debug().Msg("session closed")
}

func (s *ChatSession) emit(eventType, conversationID string, data interface{}) {
	payload, err := ws.NewEvent(eventType, conversationID, data)
	if err != nil {
		s.log.Error().Err(err).Str("type", eventType).Msg("failed to encode event")
		return
	}
	s.out.Enqueue(payload)
}

func (s *ChatSession) emitError(conversationID string, err error) {
	data := ws.ErrorData{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		data = ws.ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	s.emit(ws.MessageTypeError, conversationID, data)
}
