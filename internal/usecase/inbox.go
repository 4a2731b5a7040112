package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

var ErrInboxClosed = errors.Conflict("Inbox is closed")

// InboxOptions tunes an Inbox. Zero values fall back to defaults.
type InboxOptions struct {
	// ResubscribeInterval and ResubscribeBurst pace re-establishing listeners
	// after a transport error.
	ResubscribeInterval time.Duration
	ResubscribeBurst    int

	// WatcherWarnThreshold logs a warning when the viewer has more accepted
	// conversations than this. Every conversation costs one live listener.
	WatcherWarnThreshold int

	// OnChange receives every published state. It runs while the Inbox lock
	// is held: it must not block and must not call back into the Inbox.
	OnChange func(InboxState)
}

func (o InboxOptions) withDefaults() InboxOptions {
	if o.ResubscribeInterval <= 0 {
		o.ResubscribeInterval = 2 * time.Second
	}
	if o.ResubscribeBurst <= 0 {
		o.ResubscribeBurst = 3
	}
	return o
}

// InboxState is what the badge and the chat list render.
type InboxState struct {
	ViewerID      string                 `json:"viewer_id"`
	Conversations []*entity.Conversation `json:"conversations"`
	UnreadCount   int                    `json:"unread_count"`
	Tallies       map[string]int         `json:"tallies"`
	// Stale is set while any listener is down and being re-established.
	// Counts then hold their last known values.
	Stale bool `json:"stale"`
}

type sideRegistration struct {
	epoch uint64
	sub   repository.Subscription
	stale bool
}

// Inbox is the per-session realtime aggregator. It keeps two listeners on the
// requests collection (viewer as donor, viewer as receiver), merges them,
// runs one unread watcher per accepted conversation and sums the tallies.
//
// Listener callbacks arrive on store goroutines, so all state sits behind mu.
// Each registration carries an epoch; a callback whose epoch no longer
// matches its registration is dropped, which covers cancelled listeners,
// superseded resubscribes and earlier sessions.
//
// The fan-out is one listener per accepted conversation. That is fine for
// tens of conversations and does not scale to hundreds.
type Inbox struct {
	feed    repository.ConversationFeed
	opts    InboxOptions
	limiter *rate.Limiter

	mu        sync.Mutex
	viewerID  string
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	nextEpoch uint64
	sides     [2]sideRegistration
	merger    *ConversationMerger
	watchers  map[string]*unreadWatcher
	reducer   *UnreadReducer
	state     InboxState
	warned    bool
}

// NewInbox builds an inbox for viewerID. An empty viewerID yields an idle,
// signed-out inbox that can be started later with Reset.
func NewInbox(feed repository.ConversationFeed, viewerID string, opts InboxOptions) (*Inbox, error) {
	opts = opts.withDefaults()
	in := &Inbox{
		feed:     feed,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.ResubscribeInterval), opts.ResubscribeBurst),
		merger:   NewConversationMerger(),
		watchers: make(map[string]*unreadWatcher),
		reducer:  NewUnreadReducer(),
	}
	if err := in.Reset(viewerID); err != nil {
		return nil, err
	}
	return in, nil
}

// ConversationQuery selects the accepted requests where viewerID is on side.
func ConversationQuery(side entity.PartySide, viewerID string) repository.Query {
	return repository.Query{
		Predicates: []repository.Predicate{
			repository.Eq(side.Field(), viewerID),
			repository.Eq(entity.FieldStatus, string(entity.StatusAccepted)),
		},
	}
}

// Reset tears down every listener and starts over for viewerID. Passing ""
// signs the session out and publishes an empty state.
func (in *Inbox) Reset(viewerID string) error {
	for _, side := range entity.PartySides {
		if viewerID == "" {
			break
		}
		if err := ConversationQuery(side, viewerID).Validate(); err != nil {
			return err
		}
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrInboxClosed
	}
	in.teardownLocked()
	in.viewerID = viewerID
	if viewerID == "" {
		in.publishLocked()
		in.mu.Unlock()
		return nil
	}

	in.ctx, in.cancel = context.WithCancel(context.Background())
	ctx := in.ctx
	var epochs [2]uint64
	for _, side := range entity.PartySides {
		epochs[side] = in.registerSideLocked(side)
	}
	in.publishLocked()
	in.mu.Unlock()

	logger.Info("Inbox started for viewer %s", viewerID)
	for _, side := range entity.PartySides {
		if err := in.subscribeSide(ctx, side, epochs[side], viewerID); err != nil {
			in.mu.Lock()
			in.teardownLocked()
			in.viewerID = ""
			in.publishLocked()
			in.mu.Unlock()
			return err
		}
	}
	return nil
}

// Close ends the session. Further callbacks are ignored and Reset fails.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.teardownLocked()
	in.closed = true
	logger.Debug("Inbox closed for viewer %s", in.viewerID)
}

// State returns the last published state.
func (in *Inbox) State() InboxState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// WatcherCount is the number of live unread watchers.
func (in *Inbox) WatcherCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.watchers)
}

func (in *Inbox) registerSideLocked(side entity.PartySide) uint64 {
	in.nextEpoch++
	in.sides[side] = sideRegistration{epoch: in.nextEpoch, stale: in.sides[side].stale}
	return in.nextEpoch
}

// subscribeSide opens one of the two request listeners. Only configuration
// errors are returned; transport errors schedule a resubscribe.
func (in *Inbox) subscribeSide(ctx context.Context, side entity.PartySide, epoch uint64, viewerID string) error {
	sub, err := in.feed.SubscribeConversations(ctx, ConversationQuery(side, viewerID), func(conversations []*entity.Conversation, err error) {
		in.onSideSnapshot(side, epoch, conversations, err)
	})
	if err != nil {
		if errors.Is(err, "BAD_REQUEST") {
			return err
		}
		in.onSideSnapshot(side, epoch, nil, err)
		return nil
	}

	in.mu.Lock()
	current := !in.closed && in.sides[side].epoch == epoch
	if current {
		in.sides[side].sub = sub
	}
	in.mu.Unlock()

	if !current {
		sub.Cancel()
	}
	return nil
}

func (in *Inbox) onSideSnapshot(side entity.PartySide, epoch uint64, conversations []*entity.Conversation, err error) {
	in.mu.Lock()
	if in.closed || in.sides[side].epoch != epoch {
		in.mu.Unlock()
		logger.Debug("Dropping %s snapshot from retired listener (epoch %d)", side, epoch)
		return
	}

	if err != nil {
		in.sides[side].stale = true
		ctx := in.ctx
		viewerID := in.viewerID
		in.publishLocked()
		in.mu.Unlock()

		logger.Warn("Conversation listener (%s side) for viewer %s failed, list may be stale: %v", side, viewerID, err)
		go in.resubscribeSide(ctx, side, epoch)
		return
	}

	in.sides[side].stale = false
	merged, changed := in.merger.Apply(side, conversations)
	starts := in.reconcileLocked(merged)
	ctx := in.ctx
	viewerID := in.viewerID
	in.publishLocked()
	in.mu.Unlock()

	if changed {
		logger.Debug("Viewer %s now has %d accepted conversations", viewerID, len(merged))
	}
	in.startWatchers(ctx, viewerID, starts)
}

func (in *Inbox) resubscribeSide(ctx context.Context, side entity.PartySide, failedEpoch uint64) {
	if err := in.limiter.Wait(ctx); err != nil {
		return
	}

	in.mu.Lock()
	if in.closed || ctx.Err() != nil || in.sides[side].epoch != failedEpoch {
		in.mu.Unlock()
		return
	}
	old := in.sides[side].sub
	epoch := in.registerSideLocked(side)
	viewerID := in.viewerID
	in.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	logger.Info("Resubscribing %s conversation listener for viewer %s", side, viewerID)
	if err := in.subscribeSide(ctx, side, epoch, viewerID); err != nil {
		logger.Error("Resubscribe of %s listener for viewer %s rejected: %v", side, viewerID, err)
	}
}

func (in *Inbox) teardownLocked() {
	if in.cancel != nil {
		in.cancel()
		in.cancel = nil
	}
	for i := range in.sides {
		if in.sides[i].sub != nil {
			in.sides[i].sub.Cancel()
		}
		in.sides[i] = sideRegistration{}
	}
	for id, w := range in.watchers {
		if w.sub != nil {
			w.sub.Cancel()
		}
		delete(in.watchers, id)
	}
	in.reducer = NewUnreadReducer()
	in.merger.Reset()
	in.warned = false
}

func (in *Inbox) publishLocked() {
	stale := false
	for _, s := range in.sides {
		stale = stale || s.stale
	}
	for _, w := range in.watchers {
		stale = stale || w.stale
	}

	merged := in.merger.Merged()
	conversations := make([]*entity.Conversation, len(merged))
	copy(conversations, merged)

	in.state = InboxState{
		ViewerID:      in.viewerID,
		Conversations: conversations,
		UnreadCount:   in.reducer.Total(),
		Tallies:       in.reducer.Tallies(),
		Stale:         stale,
	}
	if in.opts.OnChange != nil {
		in.opts.OnChange(in.state)
	}
}
