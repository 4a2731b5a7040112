package usecase

// UnreadReducer keeps the last tally per conversation and sums them into the
// badge value. The sum is recomputed from the map on every change so a
// removed entry can never linger in a cached total.
type UnreadReducer struct {
	tallies map[string]int
}

func NewUnreadReducer() *UnreadReducer {
	return &UnreadReducer{tallies: make(map[string]int)}
}

// Set records a tally and returns the new total.
func (r *UnreadReducer) Set(conversationID string, tally int) int {
	if tally < 0 {
		tally = 0
	}
	r.tallies[conversationID] = tally
	return r.Total()
}

// Remove drops a conversation's entry and returns the new total. Removing an
// unknown id is a no-op.
func (r *UnreadReducer) Remove(conversationID string) int {
	delete(r.tallies, conversationID)
	return r.Total()
}

func (r *UnreadReducer) Total() int {
	total := 0
	for _, n := range r.tallies {
		total += n
	}
	return total
}

// Tallies returns a copy of the id -> tally mapping.
func (r *UnreadReducer) Tallies() map[string]int {
	out := make(map[string]int, len(r.tallies))
	for id, n := range r.tallies {
		out[id] = n
	}
	return out
}
