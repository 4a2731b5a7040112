package entity

import "time"

const (
	FieldRead     = "read"
	FieldSenderID = "senderId"
)

// Message lives under requests/{conversationID}/messages. Read flips from
// false to true exactly once, when the other party views the conversation.
type Message struct {
	ID         string    `json:"id" firestore:"-"`
	Text       string    `json:"text" firestore:"text"`
	SenderID   string    `json:"sender_id" firestore:"senderId"`
	SenderName string    `json:"sender_name" firestore:"senderName"`
	CreatedAt  time.Time `json:"created_at" firestore:"createdAt,serverTimestamp"`
	Read       bool      `json:"read" firestore:"read"`
}

// UnreadFor reports whether the message still waits for viewerID to read it.
// The viewer's own messages never count.
func (m *Message) UnreadFor(viewerID string) bool {
	return !m.Read && m.SenderID != viewerID
}
