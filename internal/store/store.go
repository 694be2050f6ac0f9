// Package store owns the canonical in-memory state of the sync engine:
// identity, thoughts, profiles, relays, and the per-thought message windows.
//
// Mutation model: every change goes through the store under a mutex, then
// fans out as a notification. The general StateUpdated notification is
// debounced so that a burst of inbound events produces a single UI refresh;
// per-thought MessagesUpdated and connection transitions fire immediately.
//
// Persistence model: each state slice maps to one key in the repo kv table
// ("identity", "thoughts", "profiles", "relays", "active_thought"), and each
// thought's message window lives under "messages:<thoughtID>". Slices save
// and load independently so a corrupted row never takes down the rest of the
// state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thoughtsync/thoughtsync/internal/config"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/repo"
)

// ConnStatus is the relay connection state exposed to the UI.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
)

// Persistence keys. MessageKeyPrefix is exported for the stats endpoint.
const (
	keyIdentity = "identity"
	keyThoughts = "thoughts"
	keyProfiles = "profiles"
	keyRelays   = "relays"
	keyActive   = "active_thought"

	MessageKeyPrefix = "messages:"
)

// State is everything the engine knows. Handlers read copies of it via
// Snapshot; the processor and HTTP write paths change it via Mutate and
// AddMessage.
type State struct {
	Identity        *domain.Identity           `json:"identity"`
	Thoughts        map[string]*domain.Thought `json:"thoughts"`
	ActiveThoughtID string                     `json:"active_thought_id"`
	Profiles        map[string]*domain.Profile `json:"profiles"`
	Relays          []string                   `json:"relays"`
	Messages        map[string][]domain.Message `json:"messages"`
	Status          ConnStatus                 `json:"status"`
	RelayCount      int                        `json:"relay_count"`
}

// Store guards State with a mutex and owns the notifier plus the debounce
// timer for StateUpdated.
type Store struct {
	db  *gorm.DB
	cfg config.SyncConfig

	notifier *Notifier
	debounce *debouncer

	mu    sync.RWMutex
	state State
}

// New creates a store seeded with the configured default relays and an
// always-present public thought.
func New(db *gorm.DB, cfg config.SyncConfig) *Store {
	s := &Store{
		db:       db,
		cfg:      cfg,
		notifier: NewNotifier(),
		state: State{
			Thoughts: map[string]*domain.Thought{
				domain.PublicThoughtID: domain.NewPublicThought(),
			},
			ActiveThoughtID: domain.PublicThoughtID,
			Profiles:        make(map[string]*domain.Profile),
			Relays:          append([]string(nil), cfg.DefaultRelays...),
			Messages:        make(map[string][]domain.Message),
			Status:          StatusDisconnected,
		},
	}
	s.debounce = newDebouncer(cfg.DebounceWindow, func() {
		s.notifier.Publish(Event{Type: StateUpdated})
	})
	return s
}

// Notifier exposes the event stream for SSE handlers and the client.
func (s *Store) Notifier() *Notifier { return s.notifier }

// Close cancels any pending debounced notification and closes every
// subscriber channel.
func (s *Store) Close() {
	s.debounce.Stop()
	s.notifier.Close()
}

// Mutate runs fn against the state under the write lock and schedules a
// debounced StateUpdated notification.
func (s *Store) Mutate(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	s.debounce.Trigger()
}

// View runs fn against the state under the read lock. fn must not retain
// references past its return.
func (s *Store) View(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

// Snapshot returns a deep copy of the state, safe for concurrent use.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(&s.state)
}

// AddMessage inserts msg into the thought's window, keeping the window
// sorted by (CreatedAt, ID), deduplicated by message ID, and capped at the
// configured size with the oldest entries evicted. It bumps the thought's
// LastActivity and its unread counter when the thought is not active, then
// notifies: MessagesUpdated immediately, StateUpdated debounced.
//
// It reports whether the message was actually inserted; replays return false
// and produce no notification.
func (s *Store) AddMessage(thoughtID string, msg domain.Message) bool {
	s.mu.Lock()
	msgs := s.state.Messages[thoughtID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			s.mu.Unlock()
			return false
		}
	}

	idx := sort.Search(len(msgs), func(i int) bool { return msg.Before(msgs[i]) })
	msgs = append(msgs, domain.Message{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg

	if w := s.cfg.MessageWindow; w > 0 && len(msgs) > w {
		msgs = append([]domain.Message(nil), msgs[len(msgs)-w:]...)
	}
	s.state.Messages[thoughtID] = msgs

	if th := s.state.Thoughts[thoughtID]; th != nil {
		th.Touch(msg.CreatedAt)
		if thoughtID != s.state.ActiveThoughtID {
			th.Unread++
		}
	}
	s.mu.Unlock()

	s.notifier.Publish(Event{Type: MessagesUpdated, ThoughtID: thoughtID})
	s.debounce.Trigger()
	return true
}

// Messages returns a copy of one thought's message window.
func (s *Store) Messages(thoughtID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.state.Messages[thoughtID]...)
}

// SetStatus records a connection transition and notifies subscribers.
// Repeated transitions into the current status are ignored.
func (s *Store) SetStatus(status ConnStatus, relayCount int) {
	s.mu.Lock()
	if s.state.Status == status && s.state.RelayCount == relayCount {
		s.mu.Unlock()
		return
	}
	s.state.Status = status
	s.state.RelayCount = relayCount
	s.mu.Unlock()

	s.notifier.Publish(Event{Type: ConnChanged, Status: status, RelayCount: relayCount})
}

// Status returns the current connection status and relay count.
func (s *Store) Status() (ConnStatus, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status, s.state.RelayCount
}

// Load hydrates the state from the repository. Each slice loads
// independently: a failed slice is logged, skipped, and reported in the
// joined error while the rest of the state still loads.
//
// A stored identity that cannot be decoded or fails validation is treated as
// corrupted: the row is deleted, the in-memory identity stays empty, and the
// joined error matches domain.ErrCorruptedIdentity.
//
// Load emits exactly one StateUpdated notification, immediately.
func (s *Store) Load(ctx context.Context) error {
	var errs []error

	s.mu.Lock()

	if raw, err := repo.GetItem(ctx, s.db, keyIdentity); err != nil {
		log.Error().Err(err).Str("key", keyIdentity).Msg("load slice failed")
		errs = append(errs, fmt.Errorf("%w: load %s: %v", ErrPersistence, keyIdentity, err))
	} else if raw != nil {
		var id domain.Identity
		if uerr := json.Unmarshal(raw, &id); uerr != nil || !id.Valid() {
			log.Warn().Str("key", keyIdentity).Msg("stored identity is corrupted, resetting")
			if derr := repo.RemoveItem(ctx, s.db, keyIdentity); derr != nil {
				log.Error().Err(derr).Msg("could not remove corrupted identity")
			}
			errs = append(errs, domain.ErrCorruptedIdentity)
		} else {
			s.state.Identity = &id
		}
	}

	loadJSON(ctx, s.db, keyThoughts, &s.state.Thoughts, &errs)
	loadJSON(ctx, s.db, keyProfiles, &s.state.Profiles, &errs)
	loadJSON(ctx, s.db, keyActive, &s.state.ActiveThoughtID, &errs)

	var relays []string
	loadJSON(ctx, s.db, keyRelays, &relays, &errs)
	if len(relays) > 0 {
		s.state.Relays = relays
	}

	if keys, err := repo.Keys(ctx, s.db, MessageKeyPrefix); err != nil {
		log.Error().Err(err).Msg("could not list message windows")
		errs = append(errs, fmt.Errorf("%w: list messages: %v", ErrPersistence, err))
	} else {
		for _, key := range keys {
			thoughtID := key[len(MessageKeyPrefix):]
			var msgs []domain.Message
			loadJSON(ctx, s.db, key, &msgs, &errs)
			if msgs != nil {
				s.state.Messages[thoughtID] = msgs
			}
		}
	}

	// Maps may arrive nil from an empty unmarshal; the public thought must
	// always exist.
	if s.state.Thoughts == nil {
		s.state.Thoughts = make(map[string]*domain.Thought)
	}
	if s.state.Profiles == nil {
		s.state.Profiles = make(map[string]*domain.Profile)
	}
	if s.state.Messages == nil {
		s.state.Messages = make(map[string][]domain.Message)
	}
	if s.state.Thoughts[domain.PublicThoughtID] == nil {
		s.state.Thoughts[domain.PublicThoughtID] = domain.NewPublicThought()
	}
	if s.state.ActiveThoughtID == "" || s.state.Thoughts[s.state.ActiveThoughtID] == nil {
		s.state.ActiveThoughtID = domain.PublicThoughtID
	}

	s.mu.Unlock()

	s.notifier.Publish(Event{Type: StateUpdated})
	return errors.Join(errs...)
}

// loadJSON reads one slice from the kv table into out. Missing keys leave
// out untouched; decode and read failures are logged and appended to errs.
func loadJSON(ctx context.Context, db *gorm.DB, key string, out any, errs *[]error) {
	raw, err := repo.GetItem(ctx, db, key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("load slice failed")
		*errs = append(*errs, fmt.Errorf("%w: load %s: %v", ErrPersistence, key, err))
		return
	}
	if raw == nil {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("stored slice is not valid JSON, skipping")
		*errs = append(*errs, fmt.Errorf("%w: decode %s: %v", ErrPersistence, key, err))
	}
}

// SaveIdentity persists the identity slice, or removes it when the identity
// has been cleared.
func (s *Store) SaveIdentity(ctx context.Context) error {
	s.mu.RLock()
	id := s.state.Identity
	s.mu.RUnlock()
	if id == nil {
		if err := repo.RemoveItem(ctx, s.db, keyIdentity); err != nil {
			log.Error().Err(err).Str("key", keyIdentity).Msg("save slice failed")
			return fmt.Errorf("%w: remove %s: %v", ErrPersistence, keyIdentity, err)
		}
		return nil
	}
	return s.saveSlice(ctx, keyIdentity, id)
}

// SaveThoughts persists the thought map.
func (s *Store) SaveThoughts(ctx context.Context) error {
	s.mu.RLock()
	v := s.state.Thoughts
	s.mu.RUnlock()
	return s.saveSlice(ctx, keyThoughts, v)
}

// SaveProfiles persists the profile map.
func (s *Store) SaveProfiles(ctx context.Context) error {
	s.mu.RLock()
	v := s.state.Profiles
	s.mu.RUnlock()
	return s.saveSlice(ctx, keyProfiles, v)
}

// SaveRelays persists the relay list.
func (s *Store) SaveRelays(ctx context.Context) error {
	s.mu.RLock()
	v := append([]string(nil), s.state.Relays...)
	s.mu.RUnlock()
	return s.saveSlice(ctx, keyRelays, v)
}

// SaveActivePointer persists the active thought id.
func (s *Store) SaveActivePointer(ctx context.Context) error {
	s.mu.RLock()
	v := s.state.ActiveThoughtID
	s.mu.RUnlock()
	return s.saveSlice(ctx, keyActive, v)
}

// SaveMessages persists one thought's message window.
func (s *Store) SaveMessages(ctx context.Context, thoughtID string) error {
	s.mu.RLock()
	v := append([]domain.Message(nil), s.state.Messages[thoughtID]...)
	s.mu.RUnlock()
	return s.saveSlice(ctx, MessageKeyPrefix+thoughtID, v)
}

func (s *Store) saveSlice(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("save slice failed")
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, key, err)
	}
	if err := repo.SetItem(ctx, s.db, key, raw); err != nil {
		log.Error().Err(err).Str("key", key).Msg("save slice failed")
		return fmt.Errorf("%w: save %s: %v", ErrPersistence, key, err)
	}
	return nil
}

// Reset wipes identity, thoughts, profiles, messages, and the active
// pointer, both in memory and on disk. The relay list survives. The wipe is
// best-effort total: one failed delete does not stop the rest, and every
// failure is reported in the joined error.
func (s *Store) Reset(ctx context.Context) error {
	var errs []error

	remove := func(key string) {
		if err := repo.RemoveItem(ctx, s.db, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("reset: remove failed")
			errs = append(errs, fmt.Errorf("%w: remove %s: %v", ErrPersistence, key, err))
		}
	}
	for _, key := range []string{keyIdentity, keyThoughts, keyProfiles, keyActive} {
		remove(key)
	}
	if keys, err := repo.Keys(ctx, s.db, MessageKeyPrefix); err != nil {
		log.Error().Err(err).Msg("reset: could not list message windows")
		errs = append(errs, fmt.Errorf("%w: list messages: %v", ErrPersistence, err))
	} else {
		for _, key := range keys {
			remove(key)
		}
	}

	s.mu.Lock()
	s.state.Identity = nil
	s.state.Thoughts = map[string]*domain.Thought{
		domain.PublicThoughtID: domain.NewPublicThought(),
	}
	s.state.ActiveThoughtID = domain.PublicThoughtID
	s.state.Profiles = make(map[string]*domain.Profile)
	s.state.Messages = make(map[string][]domain.Message)
	s.mu.Unlock()

	s.notifier.Publish(Event{Type: StateUpdated})
	return errors.Join(errs...)
}

func cloneState(st *State) State {
	out := State{
		ActiveThoughtID: st.ActiveThoughtID,
		Relays:          append([]string(nil), st.Relays...),
		Status:          st.Status,
		RelayCount:      st.RelayCount,
		Thoughts:        make(map[string]*domain.Thought, len(st.Thoughts)),
		Profiles:        make(map[string]*domain.Profile, len(st.Profiles)),
		Messages:        make(map[string][]domain.Message, len(st.Messages)),
	}
	if st.Identity != nil {
		id := *st.Identity
		if id.Profile != nil {
			p := *id.Profile
			id.Profile = &p
		}
		out.Identity = &id
	}
	for k, v := range st.Thoughts {
		t := *v
		out.Thoughts[k] = &t
	}
	for k, v := range st.Profiles {
		p := *v
		out.Profiles[k] = &p
	}
	for k, v := range st.Messages {
		out.Messages[k] = append([]domain.Message(nil), v...)
	}
	return out
}
