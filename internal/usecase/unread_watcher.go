package usecase

import (
	"context"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/logger"
)

// unreadWatcher is the registration of one conversation's unread listener.
type unreadWatcher struct {
	conversationID string
	epoch          uint64
	sub            repository.Subscription
	stale          bool
}

type watcherStart struct {
	conversationID string
	epoch          uint64
}

// UnreadQuery filters messages server side to read == false. The sender
// filter runs client side in CountUnread: combining both on the server needs
// a (read, senderId) composite index that is not provisioned, so the
// listener also carries the viewer's own unread messages.
func UnreadQuery() repository.Query {
	return repository.Query{
		Predicates: []repository.Predicate{repository.Eq(entity.FieldRead, false)},
	}
}

// CountUnread is the tally for one conversation.
func CountUnread(messages []*entity.Message, viewerID string) int {
	n := 0
	for _, m := range messages {
		if m != nil && m.UnreadFor(viewerID) {
			n++
		}
	}
	return n
}

// reconcileLocked makes the watcher set equal the merged conversation set:
// one watcher per id. Existing watchers are left alone and watchers for ids
// that left the set are cancelled with their tally removed. It returns the
// watchers that still need a listener.
func (in *Inbox) reconcileLocked(merged []*entity.Conversation) []watcherStart {
	live := make(map[string]struct{}, len(merged))
	var starts []watcherStart

	for _, c := range merged {
		live[c.ID] = struct{}{}
		if _, ok := in.watchers[c.ID]; ok {
			continue
		}
		starts = append(starts, watcherStart{conversationID: c.ID, epoch: in.registerWatcherLocked(c.ID)})
	}

	for id, w := range in.watchers {
		if _, ok := live[id]; ok {
			continue
		}
		if w.sub != nil {
			w.sub.Cancel()
		}
		delete(in.watchers, id)
		in.reducer.Remove(id)
		logger.Debug("Unread watcher for conversation %s cancelled", id)
	}

	threshold := in.opts.WatcherWarnThreshold
	if threshold > 0 && len(in.watchers) > threshold {
		if !in.warned {
			logger.Warn("Viewer %s has %d accepted conversations, above the %d listener budget", in.viewerID, len(in.watchers), threshold)
			in.warned = true
		}
	} else {
		in.warned = false
	}

	return starts
}

func (in *Inbox) registerWatcherLocked(conversationID string) uint64 {
	in.nextEpoch++
	w, ok := in.watchers[conversationID]
	if !ok {
		w = &unreadWatcher{conversationID: conversationID}
		in.watchers[conversationID] = w
	}
	w.epoch = in.nextEpoch
	w.sub = nil
	return w.epoch
}

func (in *Inbox) startWatchers(ctx context.Context, viewerID string, starts []watcherStart) {
	for _, s := range starts {
		in.subscribeWatcher(ctx, viewerID, s.conversationID, s.epoch)
	}
}

func (in *Inbox) subscribeWatcher(ctx context.Context, viewerID, conversationID string, epoch uint64) {
	sub, err := in.feed.SubscribeMessages(ctx, conversationID, UnreadQuery(), func(messages []*entity.Message, err error) {
		in.onWatcherSnapshot(conversationID, epoch, messages, err)
	})
	if err != nil {
		in.onWatcherSnapshot(conversationID, epoch, nil, err)
		return
	}

	in.mu.Lock()
	w, ok := in.watchers[conversationID]
	current := ok && !in.closed && w.epoch == epoch
	if current {
		w.sub = sub
	}
	in.mu.Unlock()

	if !current {
		sub.Cancel()
	}
}

// onWatcherSnapshot applies a tally. On error the watcher keeps its last
// tally, is flagged stale and gets resubscribed, so the badge freezes rather
// than dropping to zero.
func (in *Inbox) onWatcherSnapshot(conversationID string, epoch uint64, messages []*entity.Message, err error) {
	in.mu.Lock()
	w, ok := in.watchers[conversationID]
	if in.closed || !ok || w.epoch != epoch {
		in.mu.Unlock()
		logger.Debug("Dropping unread snapshot for conversation %s from retired listener (epoch %d)", conversationID, epoch)
		return
	}

	if err != nil {
		w.stale = true
		ctx := in.ctx
		in.publishLocked()
		in.mu.Unlock()

		logger.Warn("Unread watcher for conversation %s failed, holding last tally: %v", conversationID, err)
		go in.resubscribeWatcher(ctx, conversationID, epoch)
		return
	}

	w.stale = false
	in.reducer.Set(conversationID, CountUnread(messages, in.viewerID))
	in.publishLocked()
	in.mu.Unlock()
}

func (in *Inbox) resubscribeWatcher(ctx context.Context, conversationID string, failedEpoch uint64) {
	if err := in.limiter.Wait(ctx); err != nil {
		return
	}

	in.mu.Lock()
	w, ok := in.watchers[conversationID]
	if in.closed || ctx.Err() != nil || !ok || w.epoch != failedEpoch {
		in.mu.Unlock()
		return
	}
	old := w.sub
	epoch := in.registerWatcherLocked(conversationID)
	viewerID := in.viewerID
	in.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	logger.Info("Resubscribing unread watcher for conversation %s", conversationID)
	in.subscribeWatcher(ctx, viewerID, conversationID, epoch)
}
