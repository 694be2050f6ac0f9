package processor

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thoughtsync/thoughtsync/internal/config"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/repo"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

type fetchRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (f *fetchRecorder) FetchProfile(pubkey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, pubkey)
}

func (f *fetchRecorder) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s := store.New(db, config.SyncConfig{
		MessageWindow:  100,
		DebounceWindow: 20 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

type keypair struct {
	sk, pk string
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	sk := protocol.GenerateSecretKey()
	pk, err := protocol.DerivePublicKey(sk)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}
	return keypair{sk: sk, pk: pk}
}

func signedEvent(t *testing.T, kp keypair, kind int, content string, tags nostr.Tags) nostr.Event {
	t.Helper()
	ev := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      tags,
	}
	if err := protocol.Finalize(&ev, kp.sk); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return ev
}

func setIdentity(s *store.Store, kp keypair) {
	s.Mutate(func(st *store.State) {
		st.Identity = &domain.Identity{SecretKey: kp.sk, PubKey: kp.pk}
	})
}

// --- verification ---

func TestProcess_RejectsTamperedEvent(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	kp := newKeypair(t)

	ev := signedEvent(t, kp, protocol.KindNote, "original", nil)
	ev.Content = "tampered after signing"

	p.Process(ev, gateway.SubPublic)

	if got := s.Messages(domain.PublicThoughtID); len(got) != 0 {
		t.Fatalf("tampered event produced %d messages, want 0", len(got))
	}
}

// --- public notes ---

func TestProcess_PublicNote(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	kp := newKeypair(t)

	ev := signedEvent(t, kp, protocol.KindNote, "hello world", nil)
	p.Process(ev, gateway.SubPublic)

	got := s.Messages(domain.PublicThoughtID)
	if len(got) != 1 || got[0].Content != "hello world" || got[0].PubKey != kp.pk {
		t.Fatalf("messages = %+v", got)
	}

	// Replaying the same event must not duplicate it.
	p.Process(ev, gateway.SubPublic)
	if got := s.Messages(domain.PublicThoughtID); len(got) != 1 {
		t.Fatalf("replay produced %d messages, want 1", len(got))
	}
}

func TestProcess_NoteOutsidePublicFeedIgnored(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	kp := newKeypair(t)

	ev := signedEvent(t, kp, protocol.KindNote, "stray", nil)
	p.Process(ev, gateway.SubDM)

	if got := s.Messages(domain.PublicThoughtID); len(got) != 0 {
		t.Fatalf("stray note applied: %+v", got)
	}
}

// --- direct messages ---

func TestProcess_DirectMessageProvisionsThoughtAndDecrypts(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fetchRecorder{}
	p := New(s, fetcher)

	alice := newKeypair(t)
	bob := newKeypair(t)
	setIdentity(s, bob)

	sealed, err := protocol.EncryptDirect(alice.sk, bob.pk, "hi bob")
	if err != nil {
		t.Fatalf("EncryptDirect: %v", err)
	}
	ev := signedEvent(t, alice, protocol.KindDirectMessage, sealed, nostr.Tags{{"p", bob.pk}})

	p.Process(ev, gateway.SubDM)

	st := s.Snapshot()
	th := st.Thoughts[alice.pk]
	if th == nil || th.Type != domain.ThoughtDirect || th.PeerPubKey != alice.pk {
		t.Fatalf("thought not provisioned: %+v", th)
	}
	got := s.Messages(alice.pk)
	if len(got) != 1 || got[0].Content != "hi bob" {
		t.Fatalf("messages = %+v", got)
	}
	if fetched := fetcher.fetched(); len(fetched) != 1 || fetched[0] != alice.pk {
		t.Fatalf("profile fetches = %v, want [%s]", fetched, alice.pk)
	}
}

func TestProcess_DirectMessageKnownProfileSkipsFetch(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fetchRecorder{}
	p := New(s, fetcher)

	alice := newKeypair(t)
	bob := newKeypair(t)
	setIdentity(s, bob)

	s.Mutate(func(st *store.State) {
		st.Profiles[alice.pk] = &domain.Profile{PubKey: alice.pk, Name: "Alice", UpdatedAt: 1}
	})

	sealed, err := protocol.EncryptDirect(alice.sk, bob.pk, "first contact")
	if err != nil {
		t.Fatalf("EncryptDirect: %v", err)
	}
	ev := signedEvent(t, alice, protocol.KindDirectMessage, sealed, nostr.Tags{{"p", bob.pk}})
	p.Process(ev, gateway.SubDM)

	st := s.Snapshot()
	if th := st.Thoughts[alice.pk]; th == nil || th.Name != "Alice" {
		t.Fatalf("thought = %+v, want one named from the cached profile", th)
	}
	if fetched := fetcher.fetched(); len(fetched) != 0 {
		t.Fatalf("profile fetches = %v, want none when the profile is cached", fetched)
	}
}

func TestProcess_OwnEchoedDirectMessageMapsToPeer(t *testing.T) {
	s := newTestStore(t)
	p := New(s, &fetchRecorder{})

	alice := newKeypair(t)
	bob := newKeypair(t)
	setIdentity(s, alice)

	sealed, err := protocol.EncryptDirect(alice.sk, bob.pk, "hi bob, it's me")
	if err != nil {
		t.Fatalf("EncryptDirect: %v", err)
	}
	ev := signedEvent(t, alice, protocol.KindDirectMessage, sealed, nostr.Tags{{"p", bob.pk}})

	p.Process(ev, gateway.SubDM)

	if got := s.Messages(bob.pk); len(got) != 1 || got[0].Content != "hi bob, it's me" {
		t.Fatalf("echoed message not under peer thought: %+v", got)
	}
}

func TestProcess_DirectMessageDecryptFailureYieldsPlaceholder(t *testing.T) {
	s := newTestStore(t)
	p := New(s, &fetchRecorder{})

	alice := newKeypair(t)
	bob := newKeypair(t)
	setIdentity(s, bob)

	// Valid signature, garbage ciphertext.
	ev := signedEvent(t, alice, protocol.KindDirectMessage, "not-nip04?payload", nostr.Tags{{"p", bob.pk}})
	p.Process(ev, gateway.SubDM)

	got := s.Messages(alice.pk)
	if len(got) != 1 || got[0].Content != DecryptPlaceholder {
		t.Fatalf("messages = %+v, want one placeholder", got)
	}
}

func TestProcess_DirectMessageWithoutIdentityDropped(t *testing.T) {
	s := newTestStore(t)
	p := New(s, &fetchRecorder{})
	alice := newKeypair(t)

	ev := signedEvent(t, alice, protocol.KindDirectMessage, "sealed", nostr.Tags{{"p", "someone"}})
	p.Process(ev, gateway.SubDM)

	if st := s.Snapshot(); len(st.Thoughts) != 1 {
		t.Fatalf("thoughts = %v, want only public", st.Thoughts)
	}
}

// --- group messages ---

func TestProcess_GroupMessageDecrypts(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	alice := newKeypair(t)

	key, err := protocol.GenerateGroupKey()
	if err != nil {
		t.Fatalf("GenerateGroupKey: %v", err)
	}
	s.Mutate(func(st *store.State) {
		st.Thoughts["grp1"] = domain.NewGroupThought("grp1", "crew", key)
	})

	sealed, err := protocol.EncryptGroup("hello crew", key)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	ev := signedEvent(t, alice, protocol.KindGroupMessage, sealed, nostr.Tags{{"g", "grp1"}})

	p.Process(ev, gateway.SubGroupPrefix+"grp1")

	if got := s.Messages("grp1"); len(got) != 1 || got[0].Content != "hello crew" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestProcess_GroupMessageWrongKeyYieldsPlaceholder(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	alice := newKeypair(t)

	key1, _ := protocol.GenerateGroupKey()
	key2, _ := protocol.GenerateGroupKey()
	s.Mutate(func(st *store.State) {
		st.Thoughts["grp1"] = domain.NewGroupThought("grp1", "crew", key2)
	})

	sealed, _ := protocol.EncryptGroup("secret", key1)
	ev := signedEvent(t, alice, protocol.KindGroupMessage, sealed, nostr.Tags{{"g", "grp1"}})
	p.Process(ev, gateway.SubGroupPrefix+"grp1")

	if got := s.Messages("grp1"); len(got) != 1 || got[0].Content != DecryptPlaceholder {
		t.Fatalf("messages = %+v, want one placeholder", got)
	}
}

func TestProcess_GroupMessageWithoutKeyMaterialDropped(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	alice := newKeypair(t)

	key, _ := protocol.GenerateGroupKey()
	sealed, _ := protocol.EncryptGroup("who dis", key)
	ev := signedEvent(t, alice, protocol.KindGroupMessage, sealed, nostr.Tags{{"g", "unknown-group"}})

	p.Process(ev, gateway.SubGroupPrefix+"unknown-group")

	if got := s.Messages("unknown-group"); len(got) != 0 {
		t.Fatalf("undecryptable group message was queued: %+v", got)
	}
	if st := s.Snapshot(); st.Thoughts["unknown-group"] != nil {
		t.Fatal("unknown group must not be auto-provisioned")
	}
}

// --- profiles ---

func TestProcess_ProfileLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	alice := newKeypair(t)

	newer := nostr.Event{
		Kind:      protocol.KindProfile,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   `{"name":"Alice v2"}`,
	}
	if err := protocol.Finalize(&newer, alice.sk); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	older := nostr.Event{
		Kind:      protocol.KindProfile,
		CreatedAt: nostr.Timestamp(time.Now().Add(-time.Hour).Unix()),
		Content:   `{"name":"Alice v1"}`,
	}
	if err := protocol.Finalize(&older, alice.sk); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	p.Process(newer, gateway.SubProfileFetch)
	p.Process(older, gateway.SubProfileFetch) // stale, must not win

	st := s.Snapshot()
	if got := st.Profiles[alice.pk]; got == nil || got.Name != "Alice v2" {
		t.Fatalf("profile = %+v, want the newer write", got)
	}
}

func TestProcess_ProfileUpdatesDirectThoughtNameAndIdentity(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)
	alice := newKeypair(t)
	bob := newKeypair(t)
	setIdentity(s, bob)

	s.Mutate(func(st *store.State) {
		st.Thoughts[alice.pk] = domain.NewDirectThought(alice.pk, alice.pk[:8])
	})

	ev := signedEvent(t, alice, protocol.KindProfile, `{"name":"Alice"}`, nil)
	p.Process(ev, gateway.SubProfileFetch)

	st := s.Snapshot()
	if got := st.Thoughts[alice.pk].Name; got != "Alice" {
		t.Fatalf("thought name = %q, want Alice", got)
	}

	// Own profile mirrors onto the identity.
	own := signedEvent(t, bob, protocol.KindProfile, `{"name":"Bob"}`, nil)
	p.Process(own, gateway.SubOwnProfile)
	st = s.Snapshot()
	if st.Identity.Profile == nil || st.Identity.Profile.Name != "Bob" {
		t.Fatalf("identity profile = %+v", st.Identity.Profile)
	}
}

// --- persistence ---

func TestPersist_LogsFailuresButNotCancellation(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil)

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A save abandoned by cancellation is routine and stays quiet.
	p.persist(ctx, func(context.Context) error { return context.Canceled })
	if buf.Len() != 0 {
		t.Fatalf("cancelled save was logged: %s", buf.String())
	}

	// A real persistence failure must surface even under a dead context.
	p.persist(ctx, func(context.Context) error { return errors.New("disk full") })
	if !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("genuine failure not logged, got: %s", buf.String())
	}
}
