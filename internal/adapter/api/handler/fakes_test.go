package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	ws "sharebox/internal/infrastructure/websocket"
	"sharebox/pkg/errors"
)

type memSub struct {
	conversationID string
	q              repository.Query
	onConvs        repository.ConversationSnapshotFunc
	onMessages     repository.MessageSnapshotFunc

	mu        sync.Mutex
	cancelled bool
}

func (s *memSub) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *memSub) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled
}

// memRepo is an in-memory store whose listeners only fire on push.
type memRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	threads       map[string][]*entity.Message
	subs          []*memSub
	nextID        int
}

func newMemRepo(conversations ...*entity.Conversation) *memRepo {
	r := &memRepo{
		conversations: make(map[string]*entity.Conversation),
		threads:       make(map[string][]*entity.Message),
	}
	for _, c := range conversations {
		r.conversations[c.ID] = c
	}
	return r
}

func matchesConversation(q repository.Query, c *entity.Conversation) bool {
	for _, p := range q.Predicates {
		var v interface{}
		switch p.Field {
		case entity.FieldDonorID:
			v = c.DonorID
		case entity.FieldReceiverID:
			v = c.ReceiverID
		case entity.FieldStatus:
			v = string(c.Status)
		}
		if v != p.Value {
			return false
		}
	}
	return true
}

func matchesMessage(q repository.Query, m *entity.Message) bool {
	for _, p := range q.Predicates {
		var v interface{}
		switch p.Field {
		case entity.FieldRead:
			v = m.Read
		case entity.FieldSenderID:
			v = m.SenderID
		}
		if v != p.Value {
			return false
		}
	}
	return true
}

func (r *memRepo) SubscribeConversations(_ context.Context, q repository.Query, fn repository.ConversationSnapshotFunc) (repository.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &memSub{q: q, onConvs: fn}
	r.subs = append(r.subs, s)
	return s, nil
}

func (r *memRepo) SubscribeMessages(_ context.Context, conversationID string, q repository.Query, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &memSub{conversationID: conversationID, q: q, onMessages: fn}
	r.subs = append(r.subs, s)
	return s, nil
}

// push delivers the current result set to every listener registered so far.
func (r *memRepo) push() {
	r.mu.Lock()
	subs := append([]*memSub(nil), r.subs...)
	r.mu.Unlock()

	for _, s := range subs {
		if !s.live() {
			continue
		}
		if s.onConvs != nil {
			list, _ := r.List(context.Background(), s.q)
			s.onConvs(list, nil)
			continue
		}
		messages, _ := r.ListMessages(context.Background(), s.conversationID, s.q)
		s.onMessages(messages, nil)
	}
}

func (r *memRepo) GetByID(_ context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, q repository.Query) ([]*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, c := range r.conversations {
		if matchesConversation(q, c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) TransitionStatus(_ context.Context, id string, from, to entity.RequestStatus) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	if c.Status != from || !from.CanTransition(to) {
		return nil, errors.Conflict("status moved")
	}
	c.Status = to
	cp := *c
	return &cp, nil
}

func (r *memRepo) CreateMessage(_ context.Context, conversationID string, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	message.ID = fmt.Sprintf("new-%d", r.nextID)
	message.CreatedAt = time.Now()
	cp := *message
	r.threads[conversationID] = append(r.threads[conversationID], &cp)
	return nil
}

func (r *memRepo) ListMessages(_ context.Context, conversationID string, q repository.Query) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.threads[conversationID] {
		if matchesMessage(q, m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) CommitBatch(_ context.Context, updates []repository.FieldUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		for _, thread := range r.threads {
			for _, m := range thread {
				if m.ID == u.DocID {
					if v, ok := u.Patch[entity.FieldRead].(bool); ok {
						m.Read = v
					}
				}
			}
		}
	}
	return nil
}

func (r *memRepo) liveSubs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subs {
		if s.live() {
			n++
		}
	}
	return n
}

// liveThreads counts open conversation views, which are the only ordered
// message listeners.
func (r *memRepo) liveThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subs {
		if s.onMessages != nil && s.q.OrderBy != "" && s.live() {
			n++
		}
	}
	return n
}

func (r *memRepo) unread(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.threads[conversationID] {
		if !m.Read {
			n++
		}
	}
	return n
}

type memUsers map[string]*entity.User

func (u memUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, errors.NotFound("User", nil)
}

// recordingOutbound captures frames a session would write to the socket.
type recordingOutbound struct {
	mu     sync.Mutex
	frames [][]byte
}

func (o *recordingOutbound) Enqueue(message []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, message)
	return true
}

func (o *recordingOutbound) events(t *testing.T, eventType string) []*ws.WSMessage {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*ws.WSMessage
	for _, f := range o.frames {
		var m ws.WSMessage
		require.NoError(t, json.Unmarshal(f, &m))
		if m.Type == eventType {
			out = append(out, &m)
		}
	}
	return out
}

func (o *recordingOutbound) last(t *testing.T, eventType string) *ws.WSMessage {
	t.Helper()
	events := o.events(t, eventType)
	require.NotEmpty(t, events, "no %s event", eventType)
	return events[len(events)-1]
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func acceptedConversation(id, donor, receiver string) *entity.Conversation {
	return &entity.Conversation{
		ID:           id,
		ItemName:     "item " + id,
		DonorID:      donor,
		DonorName:    donor,
		ReceiverID:   receiver,
		ReceiverName: receiver,
		Status:       entity.StatusAccepted,
		CreatedAt:    baseTime,
	}
}

func threadMessage(id, sender string, read bool, minutes int) *entity.Message {
	return &entity.Message{
		ID:         id,
		Text:       "text " + id,
		SenderID:   sender,
		SenderName: sender,
		Read:       read,
		CreatedAt:  baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}
