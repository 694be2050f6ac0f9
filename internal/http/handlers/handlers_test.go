package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nbd-wtf/go-nostr"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/config"
	"github.com/thoughtsync/thoughtsync/internal/http/middleware"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/repo"
)

// fakePool satisfies protocol.Pool for handler tests. Publishes succeed
// unless failAll is set; subscriptions are live channels that close on ctx
// cancellation.
type fakePool struct {
	mu        sync.Mutex
	failAll   bool
	published []nostr.Event
}

func (f *fakePool) Subscribe(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent {
	ch := make(chan nostr.RelayEvent, 16)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (f *fakePool) Fetch(ctx context.Context, urls []string, filter nostr.Filter) <-chan nostr.RelayEvent {
	ch := make(chan nostr.RelayEvent)
	close(ch)
	return ch
}

func (f *fakePool) Publish(ctx context.Context, urls []string, ev nostr.Event) <-chan protocol.PublishResult {
	f.mu.Lock()
	f.published = append(f.published, ev)
	fail := f.failAll
	f.mu.Unlock()

	ch := make(chan protocol.PublishResult, len(urls))
	for _, u := range urls {
		res := protocol.PublishResult{RelayURL: u}
		if fail {
			res.Err = errors.New("rejected")
		}
		ch <- res
	}
	close(ch)
	return ch
}

func (f *fakePool) QuerySingle(ctx context.Context, urls []string, filter nostr.Filter) *nostr.Event {
	return nil
}

func (f *fakePool) Close() {}

func (f *fakePool) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DBPath:         filepath.Join(t.TempDir(), "app.db"),
		IdempotencyTTL: time.Hour,
		Sync: config.SyncConfig{
			DefaultRelays:     []string{"wss://a.test"},
			MessageWindow:     100,
			SeenCacheCap:      2000,
			SeenCacheLow:      1500,
			DebounceWindow:    20 * time.Millisecond,
			EventBuffer:       64,
			ProfileFetchRPS:   1000,
			ProfileFetchBurst: 1000,
			PublishTimeout:    2 * time.Second,
			QueryTimeout:      time.Second,
			DMSinceWindow:     24 * time.Hour,
			GroupSinceWindow:  24 * time.Hour,
		},
	}
}

// newTestEnv wires a Handlers aggregate over a fake pool and a fresh SQLite
// database, plus a Gin engine carrying only the idempotency middleware so the
// send path can read its key.
func newTestEnv(t *testing.T) (*Handlers, *fakePool, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig(t)
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	pool := &fakePool{}
	cl := client.New(cfg, db, pool)
	t.Cleanup(cl.Close)

	h := New(cl, cfg.IdempotencyTTL)

	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.GET("/state", h.GetState)
	r.GET("/stats", h.GetStats)
	r.POST("/reset", h.Reset)
	r.GET("/identity", h.GetIdentity)
	r.PUT("/identity", h.PutIdentity)
	r.GET("/profile", h.GetOwnProfile)
	r.PUT("/profile", h.PutProfile)
	r.GET("/profiles/:pubkey", h.GetProfile)
	r.GET("/thoughts", h.ListThoughts)
	r.POST("/thoughts", h.CreateThought)
	r.DELETE("/thoughts/:id", h.DeleteThought)
	r.PUT("/thoughts/:id/activate", h.ActivateThought)
	r.POST("/thoughts/:id/history", h.FetchHistory)
	r.GET("/thoughts/:id/messages", h.ListMessages)
	r.POST("/thoughts/:id/messages", h.SendMessage)
	r.GET("/thoughts/:id/search", h.SearchMessages)
	r.GET("/relays", h.GetRelays)
	r.PUT("/relays", h.PutRelays)
	r.GET("/connection", h.GetConnection)
	r.POST("/connect", h.Connect)
	r.POST("/disconnect", h.Disconnect)
	r.GET("/events", h.StreamEvents)

	return h, pool, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body: %v\n%s", err, w.Body.String())
	}
	return out
}

func installIdentity(t *testing.T, h *Handlers) string {
	t.Helper()
	id, err := h.Client.GenerateIdentity(context.Background())
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	return id.PubKey
}

// --- state ---

func TestGetState_RedactsSecretKey(t *testing.T) {
	h, _, r := newTestEnv(t)
	installIdentity(t, h)

	w := doJSON(t, r, http.MethodGet, "/state", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /state = %d", w.Code)
	}

	snap := h.Client.Store.Snapshot()
	if snap.Identity == nil {
		t.Fatal("expected identity in store")
	}
	if strings.Contains(w.Body.String(), snap.Identity.SecretKey) {
		t.Fatal("secret key leaked into the state response")
	}
	if !strings.Contains(w.Body.String(), snap.Identity.PubKey) {
		t.Fatal("expected public key in the state response")
	}

	body := decodeBody(t, w)
	thoughts, ok := body["thoughts"].([]any)
	if !ok || len(thoughts) == 0 {
		t.Fatalf("expected thoughts list, got %v", body["thoughts"])
	}
	if body["active_thought_id"] != "public" {
		t.Fatalf("active = %v", body["active_thought_id"])
	}
}

func TestGetStats(t *testing.T) {
	h, _, r := newTestEnv(t)
	installIdentity(t, h)

	w := doJSON(t, r, http.MethodGet, "/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /stats = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["thoughts"].(float64) < 1 {
		t.Fatalf("expected at least the public thought, got %v", body["thoughts"])
	}
	if body["status"] != "disconnected" {
		t.Fatalf("status = %v", body["status"])
	}
}

func TestReset_WipesIdentityKeepsRelays(t *testing.T) {
	h, _, r := newTestEnv(t)
	installIdentity(t, h)

	w := doJSON(t, r, http.MethodPost, "/reset", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /reset = %d: %s", w.Code, w.Body.String())
	}

	snap := h.Client.Store.Snapshot()
	if snap.Identity != nil {
		t.Fatal("identity should be wiped")
	}
	if len(snap.Relays) == 0 {
		t.Fatal("relays should survive a reset")
	}

	if w := doJSON(t, r, http.MethodGet, "/identity", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /identity after reset = %d", w.Code)
	}
}

// --- identity ---

func TestIdentityLifecycle(t *testing.T) {
	_, _, r := newTestEnv(t)

	// No identity yet.
	if w := doJSON(t, r, http.MethodGet, "/identity", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /identity = %d", w.Code)
	}

	// Generate.
	w := doJSON(t, r, http.MethodPut, "/identity", `{}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /identity = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	pk, _ := body["pubkey"].(string)
	if len(pk) != 64 {
		t.Fatalf("pubkey = %q", pk)
	}
	if npub, _ := body["npub"].(string); !strings.HasPrefix(npub, "npub1") {
		t.Fatalf("npub = %v", body["npub"])
	}
	if _, leaked := body["secret_key"]; leaked {
		t.Fatal("secret key leaked in identity response")
	}

	// Import a specific key.
	sk := protocol.GenerateSecretKey()
	w = doJSON(t, r, http.MethodPut, "/identity", `{"secret_key":"`+sk+`"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /identity import = %d", w.Code)
	}

	// Garbage key.
	w = doJSON(t, r, http.MethodPut, "/identity", `{"secret_key":"garbage"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("PUT /identity garbage = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != ErrCodeImportFailed {
		t.Fatalf("code = %v", body["code"])
	}

	// GET reflects the imported key.
	w = doJSON(t, r, http.MethodGet, "/identity", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /identity = %d", w.Code)
	}
}

func TestPutProfile_NoIdentity(t *testing.T) {
	_, _, r := newTestEnv(t)
	w := doJSON(t, r, http.MethodPut, "/profile", `{"name":"alice"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("PUT /profile = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != ErrCodeNoIdentity {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestPutProfile_PublishesAndCaches(t *testing.T) {
	h, pool, r := newTestEnv(t)
	pk := installIdentity(t, h)

	w := doJSON(t, r, http.MethodPut, "/profile", `{"name":"alice","nip05":"alice@example.com"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /profile = %d: %s", w.Code, w.Body.String())
	}
	if pool.publishCount() != 1 {
		t.Fatalf("publishes = %d", pool.publishCount())
	}

	w = doJSON(t, r, http.MethodGet, "/profiles/"+pk, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /profiles/%s = %d", pk, w.Code)
	}
	if body := decodeBody(t, w); body["name"] != "alice" {
		t.Fatalf("name = %v", body["name"])
	}
}

func TestGetOwnProfile(t *testing.T) {
	h, _, r := newTestEnv(t)

	// No identity yet.
	if w := doJSON(t, r, http.MethodGet, "/profile", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("GET /profile without identity = %d", w.Code)
	}

	installIdentity(t, h)
	// Identity but no published profile.
	if w := doJSON(t, r, http.MethodGet, "/profile", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /profile without publish = %d", w.Code)
	}

	doJSON(t, r, http.MethodPut, "/profile", `{"name":"bob"}`, nil)
	w := doJSON(t, r, http.MethodGet, "/profile", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /profile = %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["name"] != "bob" {
		t.Fatalf("name = %v", body["name"])
	}
}

func TestGetProfile_UnknownRequestsFetch(t *testing.T) {
	_, _, r := newTestEnv(t)
	pk := strings.Repeat("ab", 32)
	w := doJSON(t, r, http.MethodGet, "/profiles/"+pk, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET unknown profile = %d", w.Code)
	}
}
