package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
)

type fakeSub struct {
	cancelled atomic.Bool
}

func (s *fakeSub) Cancel() { s.cancelled.Store(true) }

type conversationReg struct {
	q   repository.Query
	fn  repository.ConversationSnapshotFunc
	sub *fakeSub
}

type messageReg struct {
	conversationID string
	q              repository.Query
	fn             repository.MessageSnapshotFunc
	sub            *fakeSub
}

// fakeFeed records every subscription; tests push snapshots by hand.
type fakeFeed struct {
	mu            sync.Mutex
	conversations []*conversationReg
	messages      []*messageReg

	conversationErr error
	messageErr      map[string]error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{messageErr: make(map[string]error)}
}

func (f *fakeFeed) SubscribeConversations(_ context.Context, q repository.Query, fn repository.ConversationSnapshotFunc) (repository.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conversationErr != nil {
		return nil, f.conversationErr
	}
	reg := &conversationReg{q: q, fn: fn, sub: &fakeSub{}}
	f.conversations = append(f.conversations, reg)
	return reg.sub, nil
}

func (f *fakeFeed) SubscribeMessages(_ context.Context, conversationID string, q repository.Query, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.messageErr[conversationID]; err != nil {
		return nil, err
	}
	reg := &messageReg{conversationID: conversationID, q: q, fn: fn, sub: &fakeSub{}}
	f.messages = append(f.messages, reg)
	return reg.sub, nil
}

// sideReg returns the newest live registration for side.
func (f *fakeFeed) sideReg(side entity.PartySide) *conversationReg {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conversations) - 1; i >= 0; i-- {
		r := f.conversations[i]
		if !r.sub.cancelled.Load() && r.q.Predicates[0].Field == side.Field() {
			return r
		}
	}
	return nil
}

func (f *fakeFeed) allSideRegs(side entity.PartySide) []*conversationReg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var regs []*conversationReg
	for _, r := range f.conversations {
		if r.q.Predicates[0].Field == side.Field() {
			regs = append(regs, r)
		}
	}
	return regs
}

// watcherReg returns the newest live unread watcher for conversationID.
func (f *fakeFeed) watcherReg(conversationID string) *messageReg {
	return f.messageReg(conversationID, false)
}

// threadReg returns the newest live view subscription for conversationID.
func (f *fakeFeed) threadReg(conversationID string) *messageReg {
	return f.messageReg(conversationID, true)
}

func (f *fakeFeed) messageReg(conversationID string, ordered bool) *messageReg {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		r := f.messages[i]
		if r.conversationID == conversationID && !r.sub.cancelled.Load() && (r.q.OrderBy != "") == ordered {
			return r
		}
	}
	return nil
}

func (f *fakeFeed) allWatcherRegs(conversationID string) []*messageReg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var regs []*messageReg
	for _, r := range f.messages {
		if r.conversationID == conversationID && r.q.OrderBy == "" {
			regs = append(regs, r)
		}
	}
	return regs
}

func (f *fakeFeed) liveWatchers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.messages {
		if r.q.OrderBy == "" && !r.sub.cancelled.Load() {
			ids = append(ids, r.conversationID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeFeed) emitSide(t *testing.T, side entity.PartySide, conversations ...*entity.Conversation) {
	t.Helper()
	reg := f.sideReg(side)
	require.NotNil(t, reg, "no live %s listener", side)
	reg.fn(conversations, nil)
}

func (f *fakeFeed) emitUnread(t *testing.T, conversationID string, messages ...*entity.Message) {
	t.Helper()
	reg := f.watcherReg(conversationID)
	require.NotNil(t, reg, "no live unread watcher for %s", conversationID)
	reg.fn(messages, nil)
}

// fakeRepo is an in-memory ConversationRepository on top of fakeFeed.
type fakeRepo struct {
	*fakeFeed

	mu            sync.Mutex
	requests      map[string]*entity.Conversation
	threads       map[string][]*entity.Message
	batches       [][]repository.FieldUpdate
	commitErr     error
	statusUpdates int
	nextID        int

	// listings holds the last patch written per "collection/doc".
	listings map[string]map[string]interface{}
	// beforeTransition runs inside TransitionStatus before the status check.
	beforeTransition func()
}

func newFakeRepo(conversations ...*entity.Conversation) *fakeRepo {
	r := &fakeRepo{
		fakeFeed: newFakeFeed(),
		requests: make(map[string]*entity.Conversation),
		threads:  make(map[string][]*entity.Message),
		listings: make(map[string]map[string]interface{}),
	}
	for _, c := range conversations {
		r.requests[c.ID] = c
	}
	return r
}

func matches(q repository.Query, field func(string) interface{}) bool {
	for _, p := range q.Predicates {
		if p.Op != "==" || field(p.Field) != p.Value {
			return false
		}
	}
	return true
}

func conversationField(c *entity.Conversation) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case entity.FieldDonorID:
			return c.DonorID
		case entity.FieldReceiverID:
			return c.ReceiverID
		case entity.FieldStatus:
			return string(c.Status)
		}
		return nil
	}
}

func messageField(m *entity.Message) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case entity.FieldRead:
			return m.Read
		case entity.FieldSenderID:
			return m.SenderID
		}
		return nil
	}
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, q repository.Query) ([]*entity.Conversation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, c := range r.requests {
		if matches(q, conversationField(c)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, id string, from, to entity.RequestStatus) (*entity.Conversation, error) {
	if r.beforeTransition != nil {
		r.beforeTransition()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	if c.Status != from || !from.CanTransition(to) {
		return nil, errors.Conflict("status moved")
	}
	if u, ok := repository.ListingUpdate(c, to); ok {
		r.listings[u.CollectionPath+"/"+u.DocID] = u.Patch
	}
	c.Status = to
	r.statusUpdates++
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) setStatus(id string, status entity.RequestStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id].Status = status
}

func (r *fakeRepo) CreateMessage(_ context.Context, conversationID string, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	message.ID = fmt.Sprintf("m-new-%d", r.nextID)
	message.CreatedAt = time.Now()
	cp := *message
	r.threads[conversationID] = append(r.threads[conversationID], &cp)
	return nil
}

func (r *fakeRepo) ListMessages(_ context.Context, conversationID string, q repository.Query) ([]*entity.Message, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.threads[conversationID] {
		if matches(q, messageField(m)) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) CommitBatch(_ context.Context, updates []repository.FieldUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.batches = append(r.batches, updates)
	for _, u := range updates {
		for _, threads := range r.threads {
			for _, m := range threads {
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

func (r *fakeRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

type fakeUsers map[string]*entity.User

func (u fakeUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, errors.NotFound("User", nil)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (n *fakeNotifier) SendToUser(userID string, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][][]byte)
	}
	n.sent[userID] = append(n.sent[userID], payload)
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func conv(id, donor, receiver string, status entity.RequestStatus, minutes int) *entity.Conversation {
	return &entity.Conversation{
		ID:           id,
		ItemName:     "item " + id,
		DonorID:      donor,
		DonorName:    "Donor " + donor,
		ReceiverID:   receiver,
		ReceiverName: "Receiver " + receiver,
		Status:       status,
		CreatedAt:    baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func msg(id, sender string, read bool, minutes int) *entity.Message {
	return &entity.Message{
		ID:         id,
		Text:       "text " + id,
		SenderID:   sender,
		SenderName: sender,
		Read:       read,
		CreatedAt:  baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}
