// Package gateway manages the relay side of the sync engine. It owns the
// relay set, the live subscriptions, publishing with first-acknowledgement
// semantics, bounded historical queries, and guarded profile fetches.
//
// Every inbound event is deduplicated against a bounded SeenCache and then
// pushed onto one bounded channel; a single consumer (owned by the client)
// drains that channel, so downstream processing is strictly sequential.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thoughtsync/thoughtsync/internal/config"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/metrics"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// Logical subscription ids. The processor uses them to route events that are
// ambiguous by kind alone (live public feed vs. historical backfill).
const (
	SubPublic     = "public"
	SubDM         = "dm"
	SubOwnProfile = "own-profile"

	SubGroupPrefix      = "group-"
	SubHistoricalPrefix = "historical-"
	SubPublicHistorical = "public-historical"
	SubProfileFetch     = "profile-fetch"
)

// Inbound is one deduplicated event tagged with the logical subscription
// that produced it.
type Inbound struct {
	Event nostr.Event
	SubID string
}

// Gateway coordinates relay connections. All methods are safe for concurrent
// use.
type Gateway struct {
	pool     protocol.Pool
	cfg      config.SyncConfig
	statusFn func(store.ConnStatus, int)

	events chan Inbound
	seen   *SeenCache

	limiter *rate.Limiter

	mu         sync.Mutex
	relays     []string
	subs       map[string]context.CancelFunc
	connCtx    context.Context
	connCancel context.CancelFunc
	status     store.ConnStatus
	fetching   map[string]struct{}
	closed     bool

	wg sync.WaitGroup
}

// New builds a gateway over the given pool. statusFn receives every
// connection transition (typically store.SetStatus); it may be nil.
func New(pool protocol.Pool, cfg config.SyncConfig, statusFn func(store.ConnStatus, int)) *Gateway {
	if statusFn == nil {
		statusFn = func(store.ConnStatus, int) {}
	}
	return &Gateway{
		pool:     pool,
		cfg:      cfg,
		statusFn: statusFn,
		events:   make(chan Inbound, cfg.EventBuffer),
		seen:     NewSeenCache(cfg.SeenCacheCap, cfg.SeenCacheLow),
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProfileFetchRPS), cfg.ProfileFetchBurst),
		relays:   append([]string(nil), cfg.DefaultRelays...),
		subs:     make(map[string]context.CancelFunc),
		status:   store.StatusDisconnected,
		fetching: make(map[string]struct{}),
	}
}

// Events returns the inbound event channel. It is never closed; consumers
// stop by observing their own shutdown signal.
func (g *Gateway) Events() <-chan Inbound { return g.events }

// Status returns the last reported connection status.
func (g *Gateway) Status() store.ConnStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// SetRelays replaces the relay set. The new set takes effect on the next
// Connect; callers that are live reconnect explicitly.
func (g *Gateway) SetRelays(urls []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relays = append([]string(nil), urls...)
}

// Relays returns a copy of the current relay set.
func (g *Gateway) Relays() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.relays...)
}

// Connect (re)opens the live subscriptions: the public feed, and, when an
// identity is present, the user's direct messages and own profile, plus one
// subscription per known group. A previous connection is torn down first;
// its in-flight deliveries are ignored through the seen cache and cancelled
// contexts.
func (g *Gateway) Connect(pubkey string, groupIDs []string) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrTransport
	}
	if len(g.relays) == 0 {
		g.mu.Unlock()
		g.setStatus(store.StatusDisconnected, 0)
		return ErrNoRelays
	}
	if g.connCancel != nil {
		g.connCancel()
		g.subs = make(map[string]context.CancelFunc)
	}
	g.connCtx, g.connCancel = context.WithCancel(context.Background())
	relayCount := len(g.relays)
	g.mu.Unlock()

	g.setStatus(store.StatusConnecting, relayCount)

	g.subscribe(SubPublic, nostr.Filter{Kinds: []int{protocol.KindNote}})

	if pubkey != "" {
		dmSince := nostr.Timestamp(time.Now().Add(-g.cfg.DMSinceWindow).Unix())
		g.subscribe(SubDM, nostr.Filter{
			Kinds: []int{protocol.KindDirectMessage},
			Tags:  nostr.TagMap{"p": []string{pubkey}},
			Since: &dmSince,
		})
		g.subscribe(SubOwnProfile, nostr.Filter{
			Kinds:   []int{protocol.KindProfile},
			Authors: []string{pubkey},
		})
	}

	groupSince := nostr.Timestamp(time.Now().Add(-g.cfg.GroupSinceWindow).Unix())
	for _, gid := range groupIDs {
		g.subscribe(SubGroupPrefix+gid, nostr.Filter{
			Kinds: []int{protocol.KindGroupMessage},
			Tags:  nostr.TagMap{"g": []string{gid}},
			Since: &groupSince,
		})
	}

	g.setStatus(store.StatusConnected, relayCount)
	return nil
}

// Disconnect tears down every live subscription and reports the transition.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	if g.connCancel != nil {
		g.connCancel()
		g.connCancel = nil
		g.subs = make(map[string]context.CancelFunc)
	}
	g.mu.Unlock()
	g.setStatus(store.StatusDisconnected, 0)
}

// Close disconnects and waits for every forwarding goroutine to drain. The
// gateway must not be reused afterwards.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.Disconnect()
	g.wg.Wait()
}

// subscribe opens (or replaces) the logical subscription id. Re-subscribing
// the same id cancels the previous stream first, so at most one stream per
// id is live.
func (g *Gateway) subscribe(id string, filter nostr.Filter) {
	g.mu.Lock()
	if g.connCtx == nil || g.closed {
		g.mu.Unlock()
		return
	}
	if cancel, ok := g.subs[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(g.connCtx)
	g.subs[id] = cancel
	relays := append([]string(nil), g.relays...)
	g.mu.Unlock()

	ch := g.pool.Subscribe(ctx, relays, filter)
	g.forward(ctx, id, ch)
}

// forward drains a relay event stream into the bounded inbound channel,
// deduplicating on the way.
func (g *Gateway) forward(ctx context.Context, subID string, ch <-chan nostr.RelayEvent) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for re := range ch {
			if re.Event == nil {
				continue
			}
			metrics.EventReceived(re.Event.Kind)
			if !g.seen.Add(re.Event.ID) {
				metrics.EventDeduplicated()
				continue
			}
			metrics.SetSeenCacheSize(g.seen.Len())
			select {
			case g.events <- Inbound{Event: *re.Event, SubID: subID}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Publish sends an already-signed event to every relay concurrently. It
// returns as soon as one relay acknowledges; the remaining results drain in
// the background. When every relay refuses, it returns ErrAllRelaysRejected.
func (g *Gateway) Publish(ctx context.Context, ev nostr.Event) error {
	relays := g.Relays()
	if len(relays) == 0 {
		return ErrNoRelays
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
	results := g.pool.Publish(ctx, relays, ev)

	for res := range results {
		if res.Err == nil {
			log.Debug().Str("relay", res.RelayURL).Str("event", ev.ID).Msg("publish acknowledged")
			metrics.PublishOK()
			// Drain the stragglers so the pool goroutine can finish.
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				defer cancel()
				for range results {
				}
			}()
			return nil
		}
		log.Warn().Err(res.Err).Str("relay", res.RelayURL).Str("event", ev.ID).Msg("relay rejected event")
	}
	cancel()
	metrics.PublishRejected()
	return ErrAllRelaysRejected
}

// FetchHistory backfills one thought's message history with a bounded query.
// The results flow through the normal inbound channel tagged with a
// historical subscription id, so deduplication and sequential processing
// apply as usual. Private notes never touch the network.
func (g *Gateway) FetchHistory(th *domain.Thought, selfPubKey string) error {
	if th == nil || th.Type == domain.ThoughtNote {
		return nil
	}
	relays := g.Relays()
	if len(relays) == 0 {
		return ErrNoRelays
	}

	var (
		subID   string
		filters []nostr.Filter
	)
	switch th.Type {
	case domain.ThoughtPublic:
		since := nostr.Timestamp(time.Now().Add(-g.cfg.PublicHistoryWindow).Unix())
		subID = SubPublicHistorical
		filters = []nostr.Filter{{
			Kinds: []int{protocol.KindNote},
			Since: &since,
			Limit: g.cfg.PublicHistoryLimit,
		}}
	case domain.ThoughtDirect:
		if selfPubKey == "" {
			return ErrNoIdentity
		}
		since := nostr.Timestamp(time.Now().Add(-g.cfg.PrivateHistoryWindow).Unix())
		subID = SubHistoricalPrefix + th.ID
		// Both directions of the conversation.
		filters = []nostr.Filter{
			{
				Kinds:   []int{protocol.KindDirectMessage},
				Authors: []string{th.PeerPubKey},
				Tags:    nostr.TagMap{"p": []string{selfPubKey}},
				Since:   &since,
				Limit:   g.cfg.PrivateHistoryLimit,
			},
			{
				Kinds:   []int{protocol.KindDirectMessage},
				Authors: []string{selfPubKey},
				Tags:    nostr.TagMap{"p": []string{th.PeerPubKey}},
				Since:   &since,
				Limit:   g.cfg.PrivateHistoryLimit,
			},
		}
	case domain.ThoughtGroup:
		since := nostr.Timestamp(time.Now().Add(-g.cfg.PrivateHistoryWindow).Unix())
		subID = SubHistoricalPrefix + th.ID
		filters = []nostr.Filter{{
			Kinds: []int{protocol.KindGroupMessage},
			Tags:  nostr.TagMap{"g": []string{th.ID}},
			Since: &since,
			Limit: g.cfg.PrivateHistoryLimit,
		}}
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.QueryTimeout)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()
		for _, f := range filters {
			for re := range g.pool.Fetch(ctx, relays, f) {
				if re.Event == nil {
					continue
				}
				metrics.EventReceived(re.Event.Kind)
				if !g.seen.Add(re.Event.ID) {
					metrics.EventDeduplicated()
					continue
				}
				metrics.SetSeenCacheSize(g.seen.Len())
				select {
				case g.events <- Inbound{Event: *re.Event, SubID: subID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// FetchProfile queries relays for a pubkey's profile (kind 0). A fetch
// already in flight for the same pubkey is skipped, as is any fetch beyond
// the configured rate; both guards release unconditionally.
func (g *Gateway) FetchProfile(pubkey string) {
	if pubkey == "" {
		return
	}
	g.mu.Lock()
	if _, busy := g.fetching[pubkey]; busy || g.closed {
		g.mu.Unlock()
		return
	}
	if !g.limiter.Allow() {
		g.mu.Unlock()
		log.Debug().Str("pubkey", pubkey).Msg("profile fetch rate limited")
		return
	}
	g.fetching[pubkey] = struct{}{}
	g.mu.Unlock()

	relays := g.Relays()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			g.mu.Lock()
			delete(g.fetching, pubkey)
			g.mu.Unlock()
		}()

		if len(relays) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.QueryTimeout)
		defer cancel()

		ev := g.pool.QuerySingle(ctx, relays, nostr.Filter{
			Kinds:   []int{protocol.KindProfile},
			Authors: []string{pubkey},
			Limit:   1,
		})
		if ev == nil {
			return
		}
		metrics.EventReceived(ev.Kind)
		if !g.seen.Add(ev.ID) {
			metrics.EventDeduplicated()
			return
		}
		metrics.SetSeenCacheSize(g.seen.Len())
		select {
		case g.events <- Inbound{Event: *ev, SubID: SubProfileFetch}:
		case <-ctx.Done():
		}
	}()
}

func (g *Gateway) setStatus(status store.ConnStatus, relayCount int) {
	g.mu.Lock()
	g.status = status
	g.mu.Unlock()
	metrics.SetConnStatus(string(status))
	g.statusFn(status, relayCount)
}
