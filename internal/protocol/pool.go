package protocol

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// PublishResult is the outcome of delivering one event to one relay.
type PublishResult struct {
	RelayURL string
	Err      error
}

// Pool is the narrow relay-pool surface the gateway depends on. The real
// implementation wraps a go-nostr SimplePool; tests substitute fakes.
type Pool interface {
	// Subscribe opens a live subscription against the given relays. The
	// returned channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent

	// Fetch runs a one-shot bounded query: the channel closes after every
	// relay reports end-of-stored-events.
	Fetch(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent

	// Publish delivers a signed event to every relay concurrently and emits
	// one result per relay.
	Publish(ctx context.Context, urls []string, ev nostr.Event) <-chan PublishResult

	// QuerySingle returns the first matching stored event, or nil.
	QuerySingle(ctx context.Context, urls []string, filter nostr.Filter) *nostr.Event

	// Close tears down every relay connection owned by the pool.
	Close()
}

type simplePool struct {
	pool   *nostr.SimplePool
	cancel context.CancelFunc
}

// NewPool creates a relay pool backed by go-nostr. Closing the pool cancels
// its base context, which disconnects every relay it dialed.
func NewPool() Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &simplePool{pool: nostr.NewSimplePool(ctx), cancel: cancel}
}

func (p *simplePool) Subscribe(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent {
	return p.pool.SubscribeMany(ctx, urls, filter)
}

func (p *simplePool) Fetch(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent {
	return p.pool.FetchMany(ctx, urls, filter)
}

func (p *simplePool) Publish(ctx context.Context, urls []string, ev nostr.Event) <-chan PublishResult {
	out := make(chan PublishResult, len(urls))
	go func() {
		defer close(out)
		for res := range p.pool.PublishMany(ctx, urls, ev) {
			out <- PublishResult{RelayURL: res.RelayURL, Err: res.Error}
		}
	}()
	return out
}

func (p *simplePool) QuerySingle(ctx context.Context, urls []string, filter nostr.Filter) *nostr.Event {
	re := p.pool.QuerySingle(ctx, urls, filter)
	if re == nil {
		return nil
	}
	return re.Event
}

func (p *simplePool) Close() {
	p.cancel()
}
