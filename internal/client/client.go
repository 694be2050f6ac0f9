package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thoughtsync/thoughtsync/internal/config"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/processor"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/repo"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// maxContentRunes caps outbound message content. Inbound content is bounded
// by the relays, not by us.
const maxContentRunes = 4096

// Client owns the wiring between the persistence layer, the store, the
// relay gateway, and the processor. It runs the single consumer goroutine
// that drains the gateway's event channel, so all inbound processing is
// strictly sequential.
type Client struct {
	cfg  *config.Config
	db   *gorm.DB
	pool protocol.Pool

	Store   *store.Store
	Gateway *gateway.Gateway
	proc    *processor.Processor

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// New wires a client over an already-opened database and relay pool.
// Callers that just want the default wiring use Open.
func New(cfg *config.Config, db *gorm.DB, pool protocol.Pool) *Client {
	st := store.New(db, cfg.Sync)
	gw := gateway.New(pool, cfg.Sync, st.SetStatus)
	return &Client{
		cfg:     cfg,
		db:      db,
		pool:    pool,
		Store:   st,
		Gateway: gw,
		proc:    processor.New(st, gw),
		done:    make(chan struct{}),
	}
}

// Open creates the SQLite database, migrates the schema, dials a fresh
// relay pool, and returns a wired client.
func Open(cfg *config.Config) (*Client, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return New(cfg, db, protocol.NewPool()), nil
}

// Start loads persisted state and launches the consumer goroutine. The
// returned error reflects load problems (corrupted identity, unreadable
// slices); the client is operational either way.
func (c *Client) Start(ctx context.Context) error {
	loadErr := c.Store.Load(ctx)

	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go func() {
			defer close(c.done)
			for {
				select {
				case <-runCtx.Done():
					return
				case in := <-c.Gateway.Events():
					c.proc.Process(in.Event, in.SubID)
				}
			}
		}()
	})
	return loadErr
}

// Close shuts down the gateway, the consumer goroutine, the store, and the
// relay pool, in that order.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.Gateway.Close()
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		c.Store.Close()
		c.pool.Close()
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
}

// DB exposes the underlying handle for the HTTP layer (idempotency records,
// stats queries).
func (c *Client) DB() *gorm.DB { return c.db }

// Connect opens the live subscriptions for the current identity and group
// set.
func (c *Client) Connect() error {
	var (
		pk     string
		groups []string
	)
	c.Store.View(func(st *store.State) {
		if st.Identity != nil {
			pk = st.Identity.PubKey
		}
		for id, th := range st.Thoughts {
			if th.Type == domain.ThoughtGroup {
				groups = append(groups, id)
			}
		}
	})
	return c.Gateway.Connect(pk, groups)
}

// Disconnect tears down the live subscriptions.
func (c *Client) Disconnect() { c.Gateway.Disconnect() }

// SetRelays replaces the relay set, persists it, and reconnects when the
// gateway was live.
func (c *Client) SetRelays(ctx context.Context, urls []string) error {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}

	c.Store.Mutate(func(st *store.State) {
		st.Relays = append([]string(nil), cleaned...)
	})
	c.Gateway.SetRelays(cleaned)
	if err := c.Store.SaveRelays(ctx); err != nil {
		return err
	}

	if c.Gateway.Status() == store.StatusConnected {
		return c.Connect()
	}
	return nil
}

// FetchHistory backfills the given thought's history from the relays.
func (c *Client) FetchHistory(thoughtID string) error {
	var (
		th *domain.Thought
		pk string
	)
	c.Store.View(func(st *store.State) {
		th = st.Thoughts[thoughtID]
		if st.Identity != nil {
			pk = st.Identity.PubKey
		}
	})
	if th == nil {
		return ErrThoughtNotFound
	}
	return c.Gateway.FetchHistory(th, pk)
}

// GenerateIdentity creates a fresh keypair, stores it, and persists it.
// An existing identity is replaced; callers guard against that upstream.
func (c *Client) GenerateIdentity(ctx context.Context) (*domain.Identity, error) {
	sk := protocol.GenerateSecretKey()
	return c.installIdentity(ctx, sk)
}

// ImportIdentity installs a user-supplied secret key (hex or nsec).
func (c *Client) ImportIdentity(ctx context.Context, raw string) (*domain.Identity, error) {
	sk, err := protocol.DecodeSecretKey(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Msg("identity import with undecodable key")
		return nil, ErrInvalidKey
	}
	return c.installIdentity(ctx, sk)
}

func (c *Client) installIdentity(ctx context.Context, sk string) (*domain.Identity, error) {
	pk, err := protocol.DerivePublicKey(sk)
	if err != nil {
		return nil, ErrInvalidKey
	}
	id := &domain.Identity{SecretKey: sk, PubKey: pk}
	c.Store.Mutate(func(st *store.State) {
		if prof := st.Profiles[pk]; prof != nil {
			id.Profile = prof
		}
		st.Identity = id
	})
	if err := c.Store.SaveIdentity(ctx); err != nil {
		return nil, err
	}
	return id, nil
}

// CreateDirectThought starts (or returns) a conversation with the given
// peer, addressed by hex pubkey or npub.
func (c *Client) CreateDirectThought(ctx context.Context, peer string) (*domain.Thought, error) {
	pk, err := protocol.DecodePublicKey(peer)
	if err != nil {
		return nil, ErrInvalidKey
	}

	var (
		th           *domain.Thought
		profileKnown bool
	)
	c.Store.Mutate(func(st *store.State) {
		profileKnown = st.Profiles[pk] != nil
		if existing, ok := st.Thoughts[pk]; ok {
			th = existing
			return
		}
		name := pk[:8]
		if prof := st.Profiles[pk]; prof != nil && prof.Name != "" {
			name = prof.Name
		}
		th = domain.NewDirectThought(pk, name)
		st.Thoughts[pk] = th
	})
	if err := c.Store.SaveThoughts(ctx); err != nil {
		return nil, err
	}
	if !profileKnown {
		c.Gateway.FetchProfile(pk)
	}
	return th, nil
}

// CreateGroupThought joins a group. An empty id starts a new group with a
// fresh key; an empty key joins read-blind (messages stay undecryptable
// until a key is supplied).
func (c *Client) CreateGroupThought(ctx context.Context, id, name, key string) (*domain.Thought, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if key == "" {
		generated, err := protocol.GenerateGroupKey()
		if err != nil {
			return nil, err
		}
		key = generated
	}

	var th *domain.Thought
	c.Store.Mutate(func(st *store.State) {
		if existing, ok := st.Thoughts[id]; ok {
			th = existing
			return
		}
		th = domain.NewGroupThought(id, name, key)
		st.Thoughts[id] = th
	})
	if err := c.Store.SaveThoughts(ctx); err != nil {
		return nil, err
	}

	// A live connection picks up the new group immediately.
	if c.Gateway.Status() == store.StatusConnected {
		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Str("group", id).Msg("resubscribe after group join failed")
		}
	}
	return th, nil
}

// CreateNoteThought creates a local-only note.
func (c *Client) CreateNoteThought(ctx context.Context, name, body string) (*domain.Thought, error) {
	th := domain.NewNoteThought(uuid.NewString(), name, body)
	c.Store.Mutate(func(st *store.State) {
		st.Thoughts[th.ID] = th
	})
	if err := c.Store.SaveThoughts(ctx); err != nil {
		return nil, err
	}
	return th, nil
}

// LeaveThought removes a thought and its message window from local state.
// Leaving has no protocol effect: nothing is published, peers see nothing.
func (c *Client) LeaveThought(ctx context.Context, thoughtID string) error {
	if thoughtID == domain.PublicThoughtID {
		return ErrPublicImmutable
	}

	found := false
	wasGroup := false
	c.Store.Mutate(func(st *store.State) {
		th, ok := st.Thoughts[thoughtID]
		if !ok {
			return
		}
		found = true
		wasGroup = th.Type == domain.ThoughtGroup
		delete(st.Thoughts, thoughtID)
		delete(st.Messages, thoughtID)
		if st.ActiveThoughtID == thoughtID {
			st.ActiveThoughtID = domain.PublicThoughtID
		}
	})
	if !found {
		return ErrThoughtNotFound
	}

	if err := c.Store.SaveThoughts(ctx); err != nil {
		return err
	}
	if err := repo.RemoveItem(ctx, c.db, store.MessageKeyPrefix+thoughtID); err != nil {
		log.Error().Err(err).Str("thought", thoughtID).Msg("could not remove message window")
	}
	if err := c.Store.SaveActivePointer(ctx); err != nil {
		return err
	}

	if wasGroup && c.Gateway.Status() == store.StatusConnected {
		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Str("group", thoughtID).Msg("resubscribe after leave failed")
		}
	}
	return nil
}

// SetActiveThought marks a thought as the one in view and clears its unread
// counter.
func (c *Client) SetActiveThought(ctx context.Context, thoughtID string) error {
	found := false
	c.Store.Mutate(func(st *store.State) {
		th, ok := st.Thoughts[thoughtID]
		if !ok {
			return
		}
		found = true
		st.ActiveThoughtID = thoughtID
		th.Unread = 0
	})
	if !found {
		return ErrThoughtNotFound
	}
	return c.Store.SaveActivePointer(ctx)
}

// SendMessage validates, encrypts as the thought requires, publishes, and
// applies the message locally. Notes never touch the network; everything
// else needs an identity and at least one accepting relay.
func (c *Client) SendMessage(ctx context.Context, thoughtID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return nil, ErrTooLong
	}

	var (
		th *domain.Thought
		id *domain.Identity
	)
	c.Store.View(func(st *store.State) {
		th = st.Thoughts[thoughtID]
		id = st.Identity
	})
	if th == nil {
		return nil, ErrThoughtNotFound
	}

	// Local notes short-circuit the protocol entirely.
	if th.Type == domain.ThoughtNote {
		msg := domain.Message{
			ID:        uuid.NewString(),
			ThoughtID: thoughtID,
			CreatedAt: int64(nostr.Now()),
			Content:   content,
		}
		if id != nil {
			msg.PubKey = id.PubKey
		}
		c.Store.AddMessage(thoughtID, msg)
		if err := c.Store.SaveMessages(ctx, thoughtID); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	if id == nil {
		return nil, gateway.ErrNoIdentity
	}

	ev := nostr.Event{CreatedAt: nostr.Now()}
	switch th.Type {
	case domain.ThoughtPublic:
		ev.Kind = protocol.KindNote
		ev.Content = content
	case domain.ThoughtDirect:
		sealed, err := protocol.EncryptDirect(id.SecretKey, th.PeerPubKey, content)
		if err != nil {
			return nil, err
		}
		ev.Kind = protocol.KindDirectMessage
		ev.Content = sealed
		ev.Tags = nostr.Tags{{"p", th.PeerPubKey}}
	case domain.ThoughtGroup:
		sealed, err := protocol.EncryptGroup(content, th.GroupKey)
		if err != nil {
			return nil, err
		}
		ev.Kind = protocol.KindGroupMessage
		ev.Content = sealed
		ev.Tags = nostr.Tags{{"g", th.ID}}
	}
	if err := protocol.Finalize(&ev, id.SecretKey); err != nil {
		return nil, err
	}

	if err := c.Gateway.Publish(ctx, ev); err != nil {
		return nil, err
	}

	// Apply locally right away instead of waiting for the relay echo; the
	// echo deduplicates on the event id.
	msg := domain.Message{
		ID:        ev.ID,
		ThoughtID: thoughtID,
		PubKey:    id.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Content:   content,
	}
	c.Store.AddMessage(thoughtID, msg)
	if err := c.Store.SaveMessages(ctx, thoughtID); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PublishProfile signs and publishes the user's profile metadata, then
// applies it locally.
func (c *Client) PublishProfile(ctx context.Context, name, picture, nip05 string) (*domain.Profile, error) {
	var id *domain.Identity
	c.Store.View(func(st *store.State) { id = st.Identity })
	if id == nil {
		return nil, gateway.ErrNoIdentity
	}

	body, err := json.Marshal(map[string]string{
		"name":    name,
		"picture": picture,
		"nip05":   nip05,
	})
	if err != nil {
		return nil, err
	}
	ev := nostr.Event{
		Kind:      protocol.KindProfile,
		CreatedAt: nostr.Now(),
		Content:   string(body),
	}
	if err := protocol.Finalize(&ev, id.SecretKey); err != nil {
		return nil, err
	}
	if err := c.Gateway.Publish(ctx, ev); err != nil {
		return nil, err
	}

	prof := &domain.Profile{
		PubKey:    id.PubKey,
		Name:      name,
		Picture:   picture,
		NIP05:     nip05,
		UpdatedAt: int64(ev.CreatedAt),
	}
	c.Store.Mutate(func(st *store.State) {
		st.Profiles[id.PubKey] = prof
		if st.Identity != nil {
			st.Identity.Profile = prof
		}
	})
	if err := c.Store.SaveProfiles(ctx); err != nil {
		return nil, err
	}
	if err := c.Store.SaveIdentity(ctx); err != nil {
		return nil, err
	}
	return prof, nil
}

// Reset disconnects and wipes everything except the relay list.
func (c *Client) Reset(ctx context.Context) error {
	c.Disconnect()
	return c.Store.Reset(ctx)
}
