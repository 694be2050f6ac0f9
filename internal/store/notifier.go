package store

import "sync"

// EventType discriminates the notifications emitted by the store.
type EventType string

const (
	// StateUpdated signals that some slice of the state changed. It is
	// debounced: bursts of mutations coalesce into a single event.
	StateUpdated EventType = "state_updated"

	// MessagesUpdated signals a new message in one thought. It is emitted
	// immediately so the UI can append incrementally instead of re-reading
	// the whole state.
	MessagesUpdated EventType = "messages_updated"

	// ConnChanged signals a connection status transition.
	ConnChanged EventType = "conn_status"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Type       EventType  `json:"type"`
	ThoughtID  string     `json:"thought_id,omitempty"`
	Status     ConnStatus `json:"status,omitempty"`
	RelayCount int        `json:"relay_count,omitempty"`
}

// Notifier fans events out to any number of subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event, which is
// acceptable because StateUpdated is a level trigger (the next read of the
// state sees everything).
type Notifier struct {
	mu     sync.Mutex
	seq    int
	subs   map[int]chan Event
	closed bool
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the receive channel plus a cancel func. Cancel is idempotent and
// closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.seq
	n.seq++
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
