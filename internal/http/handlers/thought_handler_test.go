package handlers

import (
	"net/http"
	"testing"

	"github.com/thoughtsync/thoughtsync/internal/protocol"
)

func TestCreateThought_Note(t *testing.T) {
	_, _, r := newTestEnv(t)

	w := doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"note","name":"scratch","body":"remember this"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /thoughts = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["type"] != "note" || body["name"] != "scratch" || body["body"] != "remember this" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateThought_GroupGetsGeneratedKey(t *testing.T) {
	_, _, r := newTestEnv(t)

	w := doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"group","name":"team"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /thoughts = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["group_key"] == nil || body["group_key"] == "" {
		t.Fatal("expected a generated group key")
	}
	if body["id"] == nil || body["id"] == "" {
		t.Fatal("expected a generated group id")
	}
}

func TestCreateThought_DirectValidation(t *testing.T) {
	_, _, r := newTestEnv(t)

	// Missing peer.
	w := doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"direct"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing peer = %d", w.Code)
	}

	// Undecodable peer.
	w = doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"direct","peer":"not-a-key"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad peer = %d", w.Code)
	}

	// Valid hex peer.
	peerSK := protocol.GenerateSecretKey()
	peerPK, err := protocol.DerivePublicKey(peerSK)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"direct","peer":"`+peerPK+`"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("valid peer = %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["peer_pubkey"] != peerPK {
		t.Fatalf("peer_pubkey = %v", body["peer_pubkey"])
	}
}

func TestCreateThought_UnknownTypeAndPublic(t *testing.T) {
	_, _, r := newTestEnv(t)

	if w := doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"bogus"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus type = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"public"}`, nil); w.Code != http.StatusConflict {
		t.Fatalf("public type = %d", w.Code)
	}
}

func TestDeleteThought(t *testing.T) {
	_, _, r := newTestEnv(t)

	// Public is immutable.
	w := doJSON(t, r, http.MethodDelete, "/thoughts/public", "", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("DELETE public = %d", w.Code)
	}

	// Unknown thought.
	w = doJSON(t, r, http.MethodDelete, "/thoughts/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("DELETE unknown = %d", w.Code)
	}

	// Create then delete.
	w = doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"note","name":"tmp"}`, nil)
	id := decodeBody(t, w)["id"].(string)
	w = doJSON(t, r, http.MethodDelete, "/thoughts/"+id, "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE created = %d: %s", w.Code, w.Body.String())
	}
}

func TestActivateThought(t *testing.T) {
	_, _, r := newTestEnv(t)

	if w := doJSON(t, r, http.MethodPut, "/thoughts/nope/activate", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("activate unknown = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPut, "/thoughts/public/activate", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("activate public = %d", w.Code)
	}
}

func TestListThoughts_SortedWithActive(t *testing.T) {
	_, _, r := newTestEnv(t)

	doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"note","name":"a"}`, nil)
	doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"note","name":"b"}`, nil)

	w := doJSON(t, r, http.MethodGet, "/thoughts", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /thoughts = %d", w.Code)
	}
	body := decodeBody(t, w)
	if got := len(body["thoughts"].([]any)); got != 3 {
		t.Fatalf("thoughts = %d, want 3", got)
	}
	if body["active_thought_id"] != "public" {
		t.Fatalf("active = %v", body["active_thought_id"])
	}
}

func TestFetchHistory(t *testing.T) {
	_, _, r := newTestEnv(t)

	if w := doJSON(t, r, http.MethodPost, "/thoughts/nope/history", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("history unknown = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/thoughts/public/history", "", nil); w.Code != http.StatusAccepted {
		t.Fatalf("history public = %d", w.Code)
	}

	// Direct history without an identity is refused.
	peerSK := protocol.GenerateSecretKey()
	peerPK, _ := protocol.DerivePublicKey(peerSK)
	doJSON(t, r, http.MethodPost, "/thoughts", `{"type":"direct","peer":"`+peerPK+`"}`, nil)
	if w := doJSON(t, r, http.MethodPost, "/thoughts/"+peerPK+"/history", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("direct history without identity = %d", w.Code)
	}
}
