// Package processor turns verified relay events into state mutations. It is
// the only writer of message and profile state on the inbound path; the
// client drives it from a single goroutine, so Process never runs
// concurrently with itself.
//
// The pipeline per event is verify -> classify by kind -> decrypt where
// needed -> apply to the store -> persist the touched slices. Process never
// panics out and never returns an error: a malformed or hostile event is a
// normal occurrence on public relays and must not take the engine down.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/metrics"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// DecryptPlaceholder is surfaced as message content when a payload cannot be
// decrypted, so the conversation timeline stays complete.
const DecryptPlaceholder = "(could not decrypt)"

// saveTimeout bounds the persistence write that follows each applied event.
const saveTimeout = 5 * time.Second

// ProfileFetcher requests a profile for an unknown pubkey. Satisfied by
// *gateway.Gateway; tests substitute a recorder.
type ProfileFetcher interface {
	FetchProfile(pubkey string)
}

// Processor applies inbound events to the store.
type Processor struct {
	Store   *store.Store
	Fetcher ProfileFetcher
}

// New builds a processor. fetcher may be nil when profile backfill is not
// wanted (tests, offline mode).
func New(st *store.Store, fetcher ProfileFetcher) *Processor {
	if fetcher == nil {
		fetcher = noFetch{}
	}
	return &Processor{Store: st, Fetcher: fetcher}
}

type noFetch struct{}

func (noFetch) FetchProfile(string) {}

// Process handles one deduplicated event. subID is the logical subscription
// that delivered it (see the gateway Sub* constants).
func (p *Processor) Process(ev nostr.Event, subID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", ev.ID).Msg("event processing panicked")
		}
	}()

	if !protocol.Verify(&ev) {
		log.Warn().Str("event", ev.ID).Str("pubkey", ev.PubKey).Msg("dropping event with bad signature")
		metrics.EventDropped(ev.Kind)
		return
	}

	switch ev.Kind {
	case protocol.KindProfile:
		p.applyProfile(ev)
	case protocol.KindNote:
		p.applyNote(ev, subID)
	case protocol.KindDirectMessage:
		p.applyDirect(ev)
	case protocol.KindGroupMessage:
		p.applyGroup(ev)
	default:
		log.Debug().Int("kind", ev.Kind).Str("event", ev.ID).Msg("ignoring unhandled kind")
		metrics.EventDropped(ev.Kind)
	}
}

// profileContent is the JSON body of a kind-0 event.
type profileContent struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	NIP05   string `json:"nip05"`
}

func (p *Processor) applyProfile(ev nostr.Event) {
	var body profileContent
	if err := json.Unmarshal([]byte(ev.Content), &body); err != nil {
		log.Warn().Err(err).Str("event", ev.ID).Msg("dropping profile with invalid JSON")
		metrics.EventDropped(ev.Kind)
		return
	}

	incoming := &domain.Profile{
		PubKey:    ev.PubKey,
		Name:      norm.NFC.String(body.Name),
		Picture:   body.Picture,
		NIP05:     body.NIP05,
		UpdatedAt: int64(ev.CreatedAt),
	}

	applied := false
	p.Store.Mutate(func(st *store.State) {
		if !incoming.Supersedes(st.Profiles[ev.PubKey]) {
			return
		}
		st.Profiles[ev.PubKey] = incoming
		applied = true

		// Mirror the user's own profile onto the identity.
		if st.Identity != nil && st.Identity.PubKey == ev.PubKey {
			st.Identity.Profile = incoming
		}
		// A direct thought with this peer picks up the display name.
		if th, ok := st.Thoughts[ev.PubKey]; ok && th.Type == domain.ThoughtDirect && incoming.Name != "" {
			th.Name = incoming.Name
		}
	})
	if !applied {
		metrics.EventDropped(ev.Kind)
		return
	}
	metrics.EventApplied(ev.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	p.persist(ctx, p.Store.SaveProfiles, p.Store.SaveThoughts)
	if self := p.selfPubKey(); self == ev.PubKey {
		p.persist(ctx, p.Store.SaveIdentity)
	}
}

func (p *Processor) applyNote(ev nostr.Event, subID string) {
	// Kind-1 notes only belong to the public feed; anything tagged with a
	// different subscription is out of scope.
	if subID != gateway.SubPublic && subID != gateway.SubPublicHistorical {
		log.Debug().Str("sub", subID).Str("event", ev.ID).Msg("note outside the public feed, ignoring")
		metrics.EventDropped(ev.Kind)
		return
	}
	p.addMessage(ev, domain.PublicThoughtID, ev.Content)
}

func (p *Processor) applyDirect(ev nostr.Event) {
	var (
		self   string
		secret string
	)
	p.Store.View(func(st *store.State) {
		if st.Identity != nil {
			self = st.Identity.PubKey
			secret = st.Identity.SecretKey
		}
	})
	if self == "" {
		log.Warn().Str("event", ev.ID).Msg("direct message without identity, dropping")
		metrics.EventDropped(ev.Kind)
		return
	}

	// The conversation peer is the other side: the author for received
	// messages, the "p" recipient for our own echoed ones.
	peer := ev.PubKey
	if ev.PubKey == self {
		peer = firstTagValue(ev, "p")
		if peer == "" {
			log.Warn().Str("event", ev.ID).Msg("own direct message without recipient tag, dropping")
			metrics.EventDropped(ev.Kind)
			return
		}
	}

	provisioned := false
	profileKnown := false
	p.Store.Mutate(func(st *store.State) {
		profileKnown = st.Profiles[peer] != nil
		if _, ok := st.Thoughts[peer]; ok {
			return
		}
		name := shortKey(peer)
		if prof := st.Profiles[peer]; prof != nil && prof.Name != "" {
			name = prof.Name
		}
		st.Thoughts[peer] = domain.NewDirectThought(peer, name)
		provisioned = true
	})
	if provisioned {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		p.persist(ctx, p.Store.SaveThoughts)
		cancel()
		// Resolve the placeholder name in the background. A cached profile
		// already names the peer, so only unknown ones hit the network.
		if !profileKnown {
			p.Fetcher.FetchProfile(peer)
		}
	}

	content, err := protocol.DecryptDirect(secret, peer, ev.Content)
	if err != nil {
		log.Warn().Err(err).Str("event", ev.ID).Str("peer", peer).Msg("direct message decryption failed")
		metrics.DecryptFailure(ev.Kind)
		content = DecryptPlaceholder
	}
	p.addMessage(ev, peer, content)
}

func (p *Processor) applyGroup(ev nostr.Event) {
	gid := firstTagValue(ev, "g")
	if gid == "" {
		log.Warn().Str("event", ev.ID).Msg("group message without group tag, dropping")
		metrics.EventDropped(ev.Kind)
		return
	}

	var groupKey string
	known := false
	p.Store.View(func(st *store.State) {
		if th, ok := st.Thoughts[gid]; ok && th.Type == domain.ThoughtGroup {
			known = true
			groupKey = th.GroupKey
		}
	})
	if !known || groupKey == "" {
		// Without key material the payload is undecryptable noise; queueing
		// it would only grow without bound.
		log.Warn().Str("event", ev.ID).Str("group", gid).Bool("known", known).
			Msg("group message without key material, dropping")
		metrics.EventDropped(ev.Kind)
		return
	}

	content, err := protocol.DecryptGroup(ev.Content, groupKey)
	if err != nil {
		log.Warn().Err(err).Str("event", ev.ID).Str("group", gid).Msg("group message decryption failed")
		metrics.DecryptFailure(ev.Kind)
		content = DecryptPlaceholder
	}
	p.addMessage(ev, gid, content)
}

// addMessage inserts the event as a message and persists the thought's
// window plus the activity bookkeeping.
func (p *Processor) addMessage(ev nostr.Event, thoughtID, content string) {
	inserted := p.Store.AddMessage(thoughtID, domain.Message{
		ID:        ev.ID,
		ThoughtID: thoughtID,
		PubKey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Content:   content,
	})
	if !inserted {
		metrics.EventDropped(ev.Kind)
		return
	}
	metrics.EventApplied(ev.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	p.persist(ctx,
		func(ctx context.Context) error { return p.Store.SaveMessages(ctx, thoughtID) },
		p.Store.SaveThoughts,
	)
}

// persist runs each save and logs failures; inbound processing never stops
// on a persistence error.
func (p *Processor) persist(ctx context.Context, saves ...func(context.Context) error) {
	for _, save := range saves {
		if err := save(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("persisting processed event failed")
		}
	}
}

func (p *Processor) selfPubKey() string {
	var self string
	p.Store.View(func(st *store.State) {
		if st.Identity != nil {
			self = st.Identity.PubKey
		}
	})
	return self
}

func firstTagValue(ev nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// shortKey renders a pubkey as a provisional display name until the real
// profile arrives.
func shortKey(pk string) string {
	if len(pk) <= 8 {
		return pk
	}
	return pk[:8]
}
