package usecase

import (
	"context"
	"sync"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

// ReadReceiptCommitter flips read=true on the messages a viewer has just
// been shown. Ids are remembered once their batch succeeds so that calling
// again with the same (not yet refreshed) list writes nothing. A failed batch
// records nothing, which leaves the same subset to be retried next time.
//
// Commits for one conversation/viewer pair are serialized; different pairs
// never wait on each other's batch.
type ReadReceiptCommitter struct {
	writer repository.BatchWriter

	mu     sync.Mutex
	states map[string]*receiptState
}

// receiptState is the committed id set of one conversation/viewer pair. refs
// counts callers holding it so an idle, empty entry can be dropped.
type receiptState struct {
	mu   sync.Mutex
	done map[string]struct{}
	refs int
}

func NewReadReceiptCommitter(writer repository.BatchWriter) *ReadReceiptCommitter {
	return &ReadReceiptCommitter{
		writer: writer,
		states: make(map[string]*receiptState),
	}
}

func (c *ReadReceiptCommitter) acquire(key string) *receiptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		st = &receiptState{done: make(map[string]struct{})}
		c.states[key] = st
	}
	st.refs++
	return st
}

func (c *ReadReceiptCommitter) release(key string, st *receiptState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.refs--
	if st.refs == 0 && len(st.done) == 0 && c.states[key] == st {
		delete(c.states, key)
	}
}

// PendingReadReceipts returns the messages viewerID has not read yet,
// excluding anything viewerID sent.
func PendingReadReceipts(messages []*entity.Message, viewerID string) []*entity.Message {
	var pending []*entity.Message
	for _, m := range messages {
		if m != nil && m.ID != "" && m.UnreadFor(viewerID) {
			pending = append(pending, m)
		}
	}
	return pending
}

// Commit marks the pending subset of messages read in a single atomic batch
// and returns how many messages were written.
func (c *ReadReceiptCommitter) Commit(ctx context.Context, conversationID, viewerID string, messages []*entity.Message) (int, error) {
	if conversationID == "" || viewerID == "" {
		return 0, errors.BadRequest("Conversation id and viewer id are required for read receipts", nil)
	}

	key := receiptKey(conversationID, viewerID)
	st := c.acquire(key)
	defer c.release(key, st)

	st.mu.Lock()
	defer st.mu.Unlock()

	pending := PendingReadReceipts(messages, viewerID)
	done := st.done

	// Keep only ids that still show up unread; anything else has been
	// confirmed by a fresher snapshot.
	stillUnread := make(map[string]struct{}, len(pending))
	for _, m := range pending {
		stillUnread[m.ID] = struct{}{}
	}
	for id := range done {
		if _, ok := stillUnread[id]; !ok {
			delete(done, id)
		}
	}

	path := repository.MessagesPath(conversationID)
	var updates []repository.FieldUpdate
	for _, m := range pending {
		if _, ok := done[m.ID]; ok {
			continue
		}
		updates = append(updates, repository.FieldUpdate{
			CollectionPath: path,
			DocID:          m.ID,
			Patch:          map[string]interface{}{entity.FieldRead: true},
		})
	}
	if len(updates) == 0 {
		return 0, nil
	}

	if err := c.writer.CommitBatch(ctx, updates); err != nil {
		return 0, err
	}

	for _, u := range updates {
		done[u.DocID] = struct{}{}
	}

	logger.Debug("Marked %d messages read in conversation %s for %s", len(updates), conversationID, viewerID)
	return len(updates), nil
}

// Forget drops what the committer remembers about a viewer's conversation,
// used when its view is closed.
func (c *ReadReceiptCommitter) Forget(conversationID, viewerID string) {
	c.mu.Lock()
	delete(c.states, receiptKey(conversationID, viewerID))
	c.mu.Unlock()
}

func receiptKey(conversationID, viewerID string) string {
	return conversationID + "/" + viewerID
}
