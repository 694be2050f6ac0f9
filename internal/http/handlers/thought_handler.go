package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/http/middleware"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// ListThoughts returns every thought sorted by recency (most recent activity
// first, id as tie-breaker).
func (h *Handlers) ListThoughts(c *gin.Context) {
	st := h.Client.Store.Snapshot()
	out := make([]ThoughtResponse, 0, len(st.Thoughts))
	for _, t := range st.Thoughts {
		out = append(out, thoughtResponse(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].ID < out[j].ID
	})
	ok(c, http.StatusOK, gin.H{"thoughts": out, "active_thought_id": st.ActiveThoughtID})
}

// createThoughtRequest is the thought creation payload. Fields beyond type
// and name apply per variant: peer for direct, id/key for group, body for
// note.
type createThoughtRequest struct {
	Type domain.ThoughtType `json:"type" binding:"required"`
	Name string             `json:"name"`
	Peer string             `json:"peer"`
	ID   string             `json:"id"`
	Key  string             `json:"key"`
	Body string             `json:"body"`
}

// CreateThought creates a direct, group, or note thought. Direct creation is
// idempotent on the peer key: recreating an existing conversation returns the
// existing thought.
func (h *Handlers) CreateThought(c *gin.Context) {
	var req createThoughtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	var (
		th  *domain.Thought
		err error
	)
	switch req.Type {
	case domain.ThoughtDirect:
		if strings.TrimSpace(req.Peer) == "" {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "direct thought requires a peer key")
			return
		}
		th, err = h.Client.CreateDirectThought(ctx, req.Peer)
	case domain.ThoughtGroup:
		th, err = h.Client.CreateGroupThought(ctx, req.ID, req.Name, req.Key)
	case domain.ThoughtNote:
		th, err = h.Client.CreateNoteThought(ctx, req.Name, req.Body)
	case domain.ThoughtPublic:
		fail(c, http.StatusConflict, ErrCodeConflict, "the public thought already exists")
		return
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown thought type")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, client.ErrInvalidKey):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer key could not be decoded")
		case errors.Is(err, store.ErrPersistence):
			fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "thought could not be persisted")
		default:
			middleware.LoggerFrom(c).Error().Err(err).Msg("thought creation failed")
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "thought creation failed")
		}
		return
	}
	ok(c, http.StatusCreated, thoughtResponse(th))
}

// DeleteThought removes a thought and its local message history. The public
// thought cannot be removed.
func (h *Handlers) DeleteThought(c *gin.Context) {
	err := h.Client.LeaveThought(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, client.ErrPublicImmutable):
		fail(c, http.StatusConflict, ErrCodeConflict, "the public thought cannot be removed")
	case errors.Is(err, client.ErrThoughtNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
	case errors.Is(err, store.ErrPersistence):
		fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "thought removal could not be persisted")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "thought removal failed")
	}
}

// ActivateThought marks a thought as the one in view and clears its unread
// counter.
func (h *Handlers) ActivateThought(c *gin.Context) {
	err := h.Client.SetActiveThought(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, client.ErrThoughtNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
	case errors.Is(err, store.ErrPersistence):
		fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "active pointer could not be persisted")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "activation failed")
	}
}

// FetchHistory kicks off a historical backfill for the thought. The fetch is
// asynchronous: results arrive through the normal event pipeline.
func (h *Handlers) FetchHistory(c *gin.Context) {
	err := h.Client.FetchHistory(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "fetching"})
	case errors.Is(err, client.ErrThoughtNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
	case errors.Is(err, gateway.ErrNoIdentity):
		fail(c, http.StatusConflict, ErrCodeNoIdentity, "direct history requires an identity")
	case errors.Is(err, gateway.ErrNoRelays):
		fail(c, http.StatusServiceUnavailable, ErrCodeNoRelays, "relay set is empty")
	default:
		fail(c, http.StatusBadGateway, ErrCodeHistoryFailed, "history fetch failed")
	}
}
