package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/internal/infrastructure/ratelimit"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
	"sharebox/pkg/utils"
)

const maxMessageLength = 2000

type ChatUseCase struct {
	convRepo    repository.ConversationRepository
	userRepo    repository.UserRepository
	rateLimiter *ratelimit.RateLimiter
	committer   *ReadReceiptCommitter
	inboxOpts   InboxOptions
}

func NewChatUseCase(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	rateLimiter *ratelimit.RateLimiter,
	inboxOpts InboxOptions,
) *ChatUseCase {
	return &ChatUseCase{
		convRepo:    convRepo,
		userRepo:    userRepo,
		rateLimiter: rateLimiter,
		committer:   NewReadReceiptCommitter(convRepo),
		inboxOpts:   inboxOpts,
	}
}

// ConversationResponse is one row of the viewer's chat list.
type ConversationResponse struct {
	*entity.Conversation
	OtherPartyID   string `json:"other_party_id"`
	OtherPartyName string `json:"other_party_name"`
	Archived       bool   `json:"archived"`
}

type UnreadSummary struct {
	UnreadCount int            `json:"unread_count"`
	Tallies     map[string]int `json:"tallies"`
}

type SendMessageInput struct {
	ConversationID string
	Text           string
}

func toConversationResponse(c *entity.Conversation, viewerID string) *ConversationResponse {
	return &ConversationResponse{
		Conversation:   c,
		OtherPartyID:   c.OtherPartyID(viewerID),
		OtherPartyName: c.OtherPartyName(viewerID),
		Archived:       c.Archived(),
	}
}

// acceptedConversations is the one-shot equivalent of the inbox merger:
// both party queries, merged and deduplicated.
func (uc *ChatUseCase) acceptedConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	var merged []*entity.Conversation
	for _, side := range entity.PartySides {
		list, err := uc.convRepo.List(ctx, ConversationQuery(side, userID))
		if err != nil {
			return nil, err
		}
		merged = MergeConversations(merged, list)
	}
	return merged, nil
}

func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string) ([]*ConversationResponse, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	conversations, err := uc.acceptedConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]*ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		result = append(result, toConversationResponse(c, userID))
	}
	return result, nil
}

// participantConversation loads a conversation and checks userID takes part in it.
func (uc *ChatUseCase) participantConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}

	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParty(userID) {
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}
	return conversation, nil
}

// chatConversation is participantConversation restricted to requests whose
// chat exists: accepted, or completed and read-only.
func (uc *ChatUseCase) chatConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != entity.StatusAccepted && !conversation.Archived() {
		return nil, errors.Conflict("Chat opens once the request is accepted")
	}
	return conversation, nil
}

func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationResponse, error) {
	conversation, err := uc.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return toConversationResponse(conversation, userID), nil
}

// GetMessages returns one page of the thread, oldest first, and the thread
// length. A zero page means the whole thread. Like opening the chat window it
// marks the returned page read; messages outside it are left alone. A failed
// receipt batch is logged and left for the next read.
func (uc *ChatUseCase) GetMessages(ctx context.Context, userID, conversationID string, page utils.PaginationParams) ([]*entity.Message, int64, error) {
	if _, err := uc.chatConversation(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}

	messages, err := uc.convRepo.ListMessages(ctx, conversationID, ThreadQuery())
	if err != nil {
		return nil, 0, err
	}
	start, end := page.Window(len(messages))
	shown := messages[start:end]

	if _, err := uc.committer.Commit(ctx, conversationID, userID, shown); err != nil {
		logger.Warn("GetMessages: read receipts for %s not committed: %v", conversationID, err)
	}
	return shown, int64(len(messages)), nil
}

// MarkConversationRead commits receipts for everything currently unread.
func (uc *ChatUseCase) MarkConversationRead(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := uc.chatConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	unread, err := uc.convRepo.ListMessages(ctx, conversationID, UnreadQuery())
	if err != nil {
		return 0, err
	}
	return uc.committer.Commit(ctx, conversationID, userID, unread)
}

func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*entity.Message, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.BadRequest("Message text is required", nil)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, errors.BadRequest(fmt.Sprintf("Message text must be at most %d characters", maxMessageLength), nil)
	}

	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(userID, ratelimit.ActionSendMessage); !allowed {
			logger.Warn("SendMessage rate limited: user %s must wait %v", userID, wait)
			return nil, errors.TooManyRequests(fmt.Sprintf("Too many messages, try again in %s", wait.Round(time.Second)))
		}
	}

	conversation, err := uc.participantConversation(ctx, userID, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Archived() {
		return nil, errors.Conflict("This chat is archived and read-only")
	}
	if conversation.Status != entity.StatusAccepted {
		return nil, errors.Conflict("Chat opens once the request is accepted")
	}

	sender, err := uc.userRepo.GetByID(ctx, userID)
	if err != nil {
		logger.Warn("SendMessage: sender %s lookup failed, using fallback name: %v", userID, err)
		sender = &entity.User{ID: userID}
	}

	message := &entity.Message{
		Text:       text,
		SenderID:   userID,
		SenderName: sender.SenderName(),
	}
	if err := uc.convRepo.CreateMessage(ctx, conversation.ID, message); err != nil {
		return nil, err
	}

	logger.Debug("Message %s sent in conversation %s by %s", message.ID, conversation.ID, userID)
	return message, nil
}

// UnreadSummary computes the badge once, without keeping listeners open.
func (uc *ChatUseCase) UnreadSummary(ctx context.Context, userID string) (*UnreadSummary, error) {
	conversations, err := uc.acceptedConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	reducer := NewUnreadReducer()
	for _, c := range conversations {
		unread, err := uc.convRepo.ListMessages(ctx, c.ID, UnreadQuery())
		if err != nil {
			return nil, err
		}
		reducer.Set(c.ID, CountUnread(unread, userID))
	}

	return &UnreadSummary{UnreadCount: reducer.Total(), Tallies: reducer.Tallies()}, nil
}

// OpenInbox starts a realtime inbox for one session. onChange replaces the
// configured callback.
func (uc *ChatUseCase) OpenInbox(userID string, onChange func(InboxState)) (*Inbox, error) {
	opts := uc.inboxOpts
	opts.OnChange = onChange
	return NewInbox(uc.convRepo, userID, opts)
}

// OpenConversationView checks membership and that the chat exists, then
// opens a live thread that marks messages read as they are delivered.
func (uc *ChatUseCase) OpenConversationView(ctx context.Context, userID, conversationID string, onMessages func(string, []*entity.Message, bool)) (*ConversationView, error) {
	if _, err := uc.chatConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return OpenConversationView(uc.convRepo, uc.committer, conversationID, userID, ViewOptions{
		ResubscribeInterval: uc.inboxOpts.ResubscribeInterval,
		ResubscribeBurst:    uc.inboxOpts.ResubscribeBurst,
		OnMessages:          onMessages,
	})
}
