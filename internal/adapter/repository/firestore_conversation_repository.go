package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) requests() *firestore.CollectionRef {
	return r.client.Collection(repository.RequestsCollection)
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.requests().Doc(conversationID).Collection(repository.MessagesCollection)
}

func buildQuery(base firestore.Query, q repository.Query) (firestore.Query, error) {
	if err := q.Validate(); err != nil {
		return base, err
	}
	for _, p := range q.Predicates {
		base = base.Where(p.Field, p.Op, p.Value)
	}
	if q.OrderBy != "" {
		base = base.OrderBy(q.OrderBy, firestore.Asc)
	}
	return base, nil
}

func decodeConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, err
	}
	conversation.ID = doc.Ref.ID
	return &conversation, nil
}

func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, err
	}
	message.ID = doc.Ref.ID
	return &message, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	if id == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}

	doc, err := r.requests().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	conversation, err := decodeConversation(doc)
	if err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	return conversation, nil
}

func (r *firestoreConversationRepository) List(ctx context.Context, q repository.Query) ([]*entity.Conversation, error) {
	query, err := buildQuery(r.requests().Query, q)
	if err != nil {
		return nil, err
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var conversations []*entity.Conversation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing conversations: %v", err)
			return nil, errors.Internal("Failed to list conversations", err)
		}

		conversation, err := decodeConversation(doc)
		if err != nil {
			logger.Warn("Skipping malformed request document %s: %v", doc.Ref.ID, err)
			continue
		}
		conversations = append(conversations, conversation)
	}

	return conversations, nil
}

func (r *firestoreConversationRepository) TransitionStatus(ctx context.Context, id string, from, to entity.RequestStatus) (*entity.Conversation, error) {
	if id == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}

	ref := r.requests().Doc(id)
	var (
		updated  *entity.Conversation
		rejected error
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated, rejected = nil, nil

		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		conversation, err := decodeConversation(doc)
		if err != nil {
			rejected = errors.Internal("Failed to parse conversation data", err)
			return rejected
		}
		if conversation.Status != from || !from.CanTransition(to) {
			rejected = errors.Conflict(fmt.Sprintf("Request is %s, cannot move it from %s to %s", conversation.Status, from, to))
			return rejected
		}

		// All reads precede the writes.
		listing, hasListing := repository.ListingUpdate(conversation, to)
		var listingRef *firestore.DocumentRef
		if hasListing {
			listingRef = r.client.Collection(listing.CollectionPath).Doc(listing.DocID)
			if _, err := tx.Get(listingRef); err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
				logger.Warn("Request %s points at missing %s/%s, status only", id, listing.CollectionPath, listing.DocID)
				listingRef = nil
			}
		}

		if err := tx.Update(ref, []firestore.Update{{Path: entity.FieldStatus, Value: string(to)}}); err != nil {
			return err
		}
		if listingRef != nil {
			if err := tx.Update(listingRef, toFirestoreUpdates(listing.Patch)); err != nil {
				return err
			}
		}

		conversation.Status = to
		updated = conversation
		return nil
	})
	if err != nil {
		if rejected != nil {
			return nil, rejected
		}
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to update request status", err)
	}
	return updated, nil
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	// CreatedAt is left zero so the serverTimestamp tag applies.
	message.CreatedAt = time.Time{}
	if _, err := r.messages(conversationID).Doc(message.ID).Set(ctx, message); err != nil {
		return errors.Internal("Failed to create message", err)
	}
	message.CreatedAt = time.Now()

	return nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, q repository.Query) ([]*entity.Message, error) {
	query, err := buildQuery(r.messages(conversationID).Query, q)
	if err != nil {
		return nil, err
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while listing messages for conversation %s: %v", conversationID, err)
		return nil, errors.Internal("Failed to list messages", err)
	}

	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		message, err := decodeMessage(doc)
		if err != nil {
			logger.Warn("Skipping malformed message %s in conversation %s: %v", doc.Ref.ID, conversationID, err)
			continue
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// CommitBatch applies all patches in one transaction so either every message
// flips or none does.
func (r *firestoreConversationRepository) CommitBatch(ctx context.Context, updates []repository.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if err := u.Validate(); err != nil {
			return err
		}
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, u := range updates {
			ref := r.client.Collection(u.CollectionPath).Doc(u.DocID)
			if err := tx.Update(ref, toFirestoreUpdates(u.Patch)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Unavailable("Failed to commit batch", err)
	}
	return nil
}

func toFirestoreUpdates(patch map[string]interface{}) []firestore.Update {
	paths := make([]string, 0, len(patch))
	for path := range patch {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	updates := make([]firestore.Update, 0, len(paths))
	for _, path := range paths {
		updates = append(updates, firestore.Update{Path: path, Value: patch[path]})
	}
	return updates
}

func (r *firestoreConversationRepository) SubscribeConversations(ctx context.Context, q repository.Query, fn repository.ConversationSnapshotFunc) (repository.Subscription, error) {
	query, err := buildQuery(r.requests().Query, q)
	if err != nil {
		return nil, err
	}

	return watchQuery(ctx, query, func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		conversations := make([]*entity.Conversation, 0, len(docs))
		for _, doc := range docs {
			conversation, err := decodeConversation(doc)
			if err != nil {
				logger.Warn("Skipping malformed request document %s: %v", doc.Ref.ID, err)
				continue
			}
			conversations = append(conversations, conversation)
		}
		fn(conversations, nil)
	}), nil
}

func (r *firestoreConversationRepository) SubscribeMessages(ctx context.Context, conversationID string, q repository.Query, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}
	query, err := buildQuery(r.messages(conversationID).Query, q)
	if err != nil {
		return nil, err
	}

	return watchQuery(ctx, query, func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		messages := make([]*entity.Message, 0, len(docs))
		for _, doc := range docs {
			message, err := decodeMessage(doc)
			if err != nil {
				logger.Warn("Skipping malformed message %s in conversation %s: %v", doc.Ref.ID, conversationID, err)
				continue
			}
			messages = append(messages, message)
		}
		fn(messages, nil)
	}), nil
}

type snapshotSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *snapshotSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// watchQuery pumps a Firestore snapshot listener on its own goroutine. A
// snapshot already being decoded when Cancel runs may still be delivered, so
// callers must guard their own state against late callbacks.
func watchQuery(ctx context.Context, q firestore.Query, deliver func([]*firestore.DocumentSnapshot, error)) repository.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &snapshotSubscription{cancel: cancel}

	it := q.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if err == iterator.Done || status.Code(err) == codes.Canceled {
					return
				}
				deliver(nil, errors.Unavailable("Snapshot listener failed", err))
				return
			}

			docs, err := snap.Documents.GetAll()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				deliver(nil, errors.Unavailable("Failed to read snapshot documents", err))
				return
			}
			deliver(docs, nil)
		}
	}()

	return sub
}
