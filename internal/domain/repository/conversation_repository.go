package repository

import (
	"context"

	"sharebox/internal/domain/entity"
)

const (
	RequestsCollection = "requests"
	MessagesCollection = "messages"
)

// MessagesPath is the sub-collection path holding a conversation's messages.
func MessagesPath(conversationID string) string {
	return RequestsCollection + "/" + conversationID + "/" + MessagesCollection
}

// Subscription is a live query registration. Cancel is idempotent; once it
// returns the store delivers no further snapshots for this registration.
type Subscription interface {
	Cancel()
}

// Snapshot callbacks receive the full current result set, or a non-nil error
// after which the registration is dead and must be re-established.
type ConversationSnapshotFunc func(conversations []*entity.Conversation, err error)
type MessageSnapshotFunc func(messages []*entity.Message, err error)

// ConversationFeed is the realtime query surface of the document store.
type ConversationFeed interface {
	SubscribeConversations(ctx context.Context, q Query, fn ConversationSnapshotFunc) (Subscription, error)
	SubscribeMessages(ctx context.Context, conversationID string, q Query, fn MessageSnapshotFunc) (Subscription, error)
}

// BatchWriter commits a list of patches atomically: all or none.
type BatchWriter interface {
	CommitBatch(ctx context.Context, updates []FieldUpdate) error
}

type ConversationRepository interface {
	ConversationFeed
	BatchWriter

	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	List(ctx context.Context, q Query) ([]*entity.Conversation, error)
	// TransitionStatus moves request id from one status to the next and
	// writes the listing side effect in the same transaction. It fails with
	// Conflict when the stored status is no longer from.
	TransitionStatus(ctx context.Context, id string, from, to entity.RequestStatus) (*entity.Conversation, error)

	CreateMessage(ctx context.Context, conversationID string, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, q Query) ([]*entity.Message, error)
}
