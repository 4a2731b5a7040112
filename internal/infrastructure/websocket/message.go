package websocket

import (
	"encoding/json"
	"time"

	"sharebox/pkg/errors"
)

// Client -> server
const (
	MessageTypePing              = "ping"
	MessageTypeOpenConversation  = "open_conversation"
	MessageTypeCloseConversation = "close_conversation"
	MessageTypeSendMessage       = "send_message"
)

// Server -> client
const (
	MessageTypePong          = "pong"
	MessageTypeInboxUpdate   = "inbox_update"
	MessageTypeMessages      = "messages"
	MessageTypeMessageSent   = "message_sent"
	MessageTypeError         = "error"
	MessageTypeRequestStatus = "request_status"
)

type WSMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

type SendMessageData struct {
	TempID string `json:"temp_id,omitempty"`
	Text   string `json:"text"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent encodes a server event.
func NewEvent(eventType, conversationID string, data interface{}) ([]byte, error) {
	msg := WSMessage{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

func DecodeMessage(raw []byte) (*WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.BadRequest("Invalid message format", err)
	}
	if msg.Type == "" {
		return nil, errors.BadRequest("Message type is required", nil)
	}
	return &msg, nil
}

// DecodeData unpacks the payload of msg into v.
func DecodeData(msg *WSMessage, v interface{}) error {
	if len(msg.Data) == 0 {
		return errors.BadRequest("Message data is required for "+msg.Type, nil)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.BadRequest("Invalid data for "+msg.Type, err)
	}
	return nil
}
