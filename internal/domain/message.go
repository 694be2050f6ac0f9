package domain

// Message is a single decrypted utterance within a thought. Messages are
// immutable once created: they are never mutated in place, only evicted when
// the per-thought display window is trimmed.
type Message struct {
	ID        string `json:"id"`
	ThoughtID string `json:"thought_id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Content   string `json:"content"`
}

// Before reports whether m sorts before other by creation time, with the id
// as a deterministic tie-breaker (mirrors the CreatedAt ASC, ID ASC ordering
// used when listing).
func (m Message) Before(other Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}
