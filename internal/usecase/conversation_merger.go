package usecase

import (
	"sort"

	"sharebox/internal/domain/entity"
)

// ConversationMerger folds the donor-side and receiver-side query results into
// one list keyed by conversation id. Each input is a full replacement
// snapshot. When an id shows up on both sides the most recently received
// snapshot wins. Not safe for concurrent use; the Inbox guards it.
type ConversationMerger struct {
	snapshots [2][]*entity.Conversation
	merged    []*entity.Conversation
}

func NewConversationMerger() *ConversationMerger {
	return &ConversationMerger{}
}

// Apply replaces one side's snapshot and returns the merged list, plus whether
// the set of ids changed.
func (m *ConversationMerger) Apply(side entity.PartySide, snapshot []*entity.Conversation) ([]*entity.Conversation, bool) {
	m.snapshots[side] = snapshot

	other := entity.SideReceiver
	if side == entity.SideReceiver {
		other = entity.SideDonor
	}

	merged := MergeConversations(m.snapshots[other], m.snapshots[side])
	changed := !sameIDs(m.merged, merged)
	m.merged = merged
	return merged, changed
}

// Merged returns the current merged list.
func (m *ConversationMerger) Merged() []*entity.Conversation {
	return m.merged
}

func (m *ConversationMerger) Reset() {
	*m = ConversationMerger{}
}

// MergeConversations dedups by id with entries of newer overriding older.
// Output is sorted newest first, id ascending on ties.
func MergeConversations(older, newer []*entity.Conversation) []*entity.Conversation {
	byID := make(map[string]*entity.Conversation, len(older)+len(newer))
	for _, c := range older {
		if c != nil && c.ID != "" {
			byID[c.ID] = c
		}
	}
	for _, c := range newer {
		if c != nil && c.ID != "" {
			byID[c.ID] = c
		}
	}

	merged := make([]*entity.Conversation, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func sameIDs(a, b []*entity.Conversation) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, c := range a {
		ids[c.ID] = struct{}{}
	}
	for _, c := range b {
		if _, ok := ids[c.ID]; !ok {
			return false
		}
	}
	return true
}
