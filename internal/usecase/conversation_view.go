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

type ViewOptions struct {
	ResubscribeInterval time.Duration
	ResubscribeBurst    int

	// OnMessages receives every snapshot of the thread, oldest first. It runs
	// under the view lock and must not call back into the view.
	OnMessages func(conversationID string, messages []*entity.Message, stale bool)
}

// ConversationView is an open chat window: a live subscription to every
// message of one conversation. Each snapshot is handed to OnMessages and
// then run through the read-receipt committer, so whatever the viewer is
// shown gets marked read.
type ConversationView struct {
	feed           repository.ConversationFeed
	committer      *ReadReceiptCommitter
	conversationID string
	viewerID       string
	opts           ViewOptions
	limiter        *rate.Limiter

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	epoch  uint64
	sub    repository.Subscription
	closed bool
}

// ThreadQuery reads a whole conversation in send order.
func ThreadQuery() repository.Query {
	return repository.Query{OrderBy: entity.FieldCreatedAt}
}

func OpenConversationView(feed repository.ConversationFeed, committer *ReadReceiptCommitter, conversationID, viewerID string, opts ViewOptions) (*ConversationView, error) {
	if conversationID == "" || viewerID == "" {
		return nil, errors.BadRequest("Conversation id and viewer id are required", nil)
	}
	if opts.ResubscribeInterval <= 0 {
		opts.ResubscribeInterval = 2 * time.Second
	}
	if opts.ResubscribeBurst <= 0 {
		opts.ResubscribeBurst = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &ConversationView{
		feed:           feed,
		committer:      committer,
		conversationID: conversationID,
		viewerID:       viewerID,
		opts:           opts,
		limiter:        rate.NewLimiter(rate.Every(opts.ResubscribeInterval), opts.ResubscribeBurst),
		ctx:            ctx,
		cancel:         cancel,
	}

	v.mu.Lock()
	v.epoch++
	epoch := v.epoch
	v.mu.Unlock()

	if err := v.subscribe(epoch); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *ConversationView) ConversationID() string {
	return v.conversationID
}

// Close cancels the subscription and drops the committer's memory for this
// conversation. Safe to call more than once.
func (v *ConversationView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.epoch++
	v.cancel()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if v.committer != nil {
		v.committer.Forget(v.conversationID, v.viewerID)
	}
	logger.Debug("Conversation view %s closed for viewer %s", v.conversationID, v.viewerID)
}

func (v *ConversationView) subscribe(epoch uint64) error {
	sub, err := v.feed.SubscribeMessages(v.ctx, v.conversationID, ThreadQuery(), func(messages []*entity.Message, err error) {
		v.onSnapshot(epoch, messages, err)
	})
	if err != nil {
		if errors.Is(err, "BAD_REQUEST") {
			return err
		}
		v.onSnapshot(epoch, nil, err)
		return nil
	}

	v.mu.Lock()
	current := !v.closed && v.epoch == epoch
	if current {
		v.sub = sub
	}
	v.mu.Unlock()

	if !current {
		sub.Cancel()
	}
	return nil
}

func (v *ConversationView) onSnapshot(epoch uint64, messages []*entity.Message, err error) {
	v.mu.Lock()
	if v.closed || v.epoch != epoch {
		v.mu.Unlock()
		logger.Debug("Dropping message snapshot for %s from retired listener (epoch %d)", v.conversationID, epoch)
		return
	}

	if err != nil {
		if v.opts.OnMessages != nil {
			v.opts.OnMessages(v.conversationID, nil, true)
		}
		v.mu.Unlock()

		logger.Warn("Message listener for conversation %s failed: %v", v.conversationID, err)
		go v.resubscribe(epoch)
		return
	}

	if v.opts.OnMessages != nil {
		v.opts.OnMessages(v.conversationID, messages, false)
	}
	ctx := v.ctx
	v.mu.Unlock()

	if v.committer == nil {
		return
	}
	if _, err := v.committer.Commit(ctx, v.conversationID, v.viewerID, messages); err != nil {
		logger.Warn("Read receipts for conversation %s not committed, will retry on next snapshot: %v", v.conversationID, err)
	}
}

func (v *ConversationView) resubscribe(failedEpoch uint64) {
	if err := v.limiter.Wait(v.ctx); err != nil {
		return
	}

	v.mu.Lock()
	if v.closed || v.epoch != failedEpoch {
		v.mu.Unlock()
		return
	}
	old := v.sub
	v.sub = nil
	v.epoch++
	epoch := v.epoch
	v.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	logger.Info("Resubscribing message listener for conversation %s", v.conversationID)
	if err := v.subscribe(epoch); err != nil {
		logger.Error("Resubscribe of message listener for %s rejected: %v", v.conversationID, err)
	}
}
