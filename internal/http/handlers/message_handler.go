package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/http/middleware"
	"github.com/thoughtsync/thoughtsync/internal/repo"
	"github.com/thoughtsync/thoughtsync/internal/search"
	"github.com/thoughtsync/thoughtsync/internal/store"
	"github.com/thoughtsync/thoughtsync/internal/utils"
)

// ListMessages returns one page of a thought's message window, oldest first.
// The response carries a weak ETag derived from the window shape; a matching
// If-None-Match short-circuits with 304.
func (h *Handlers) ListMessages(c *gin.Context) {
	thoughtID := c.Param("id")

	var exists bool
	h.Client.Store.View(func(st *store.State) { _, exists = st.Thoughts[thoughtID] })
	if !exists {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
		return
	}

	msgs := h.Client.Store.Messages(thoughtID)

	etag := messagesETag(thoughtID, msgs)
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page, per := clampPagination(c.Query("page"), c.Query("per_page"))
	total := int64(len(msgs))
	start := (page - 1) * per
	if start > len(msgs) {
		start = len(msgs)
	}
	end := start + per
	if end > len(msgs) {
		end = len(msgs)
	}

	totalPages := int((total + int64(per) - 1) / int64(per))
	ok(c, http.StatusOK, gin.H{
		"messages": msgs[start:end],
		"pagination": Pagination{
			Page:       page,
			PerPage:    per,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// messagesETag derives a weak validator from the window length and the
// newest message id, which together change on every insert or trim.
func messagesETag(thoughtID string, msgs []domain.Message) string {
	last := ""
	if n := len(msgs); n > 0 {
		last = msgs[n-1].ID
	}
	return fmt.Sprintf(`W/"%s-%d-%s"`, thoughtID, len(msgs), last)
}

// sendMessageRequest is the message send payload.
type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage publishes a message into the thought. When the request carries
// an Idempotency-Key, a prior successful send under the same (thought, key)
// is replayed from its publish record instead of hitting the relays again.
func (h *Handlers) SendMessage(c *gin.Context) {
	thoughtID := c.Param("id")
	ctx := c.Request.Context()

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey {
		rec, err := repo.GetPublishRecord(ctx, h.DB, thoughtID, idemKey, time.Now().UTC())
		if err == nil && rec != nil {
			ok(c, http.StatusOK, gin.H{
				"replayed": true,
				"message":  h.replayMessage(thoughtID, rec.EventID),
				"event_id": rec.EventID,
			})
			return
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Error().Err(err).Msg("idempotency lookup failed")
			// A broken lookup must not block the send.
		}
	}

	msg, err := h.Client.SendMessage(ctx, thoughtID, req.Content)
	if err != nil {
		failSend(c, err)
		return
	}

	if hasKey {
		if _, err := repo.CreatePublishRecord(ctx, h.DB, thoughtID, idemKey, msg.ID, h.IdemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Error().Err(err).Msg("could not store publish record")
		}
	}
	ok(c, http.StatusCreated, msg)
}

// replayMessage finds the previously published message in the window. A nil
// return means the window has since trimmed it; the event id still stands.
func (h *Handlers) replayMessage(thoughtID, eventID string) *domain.Message {
	for _, m := range h.Client.Store.Messages(thoughtID) {
		if m.ID == eventID {
			return &m
		}
	}
	return nil
}

// SearchMessages ranks the thought's message window against a query string.
func (h *Handlers) SearchMessages(c *gin.Context) {
	thoughtID := c.Param("id")

	var exists bool
	h.Client.Store.View(func(st *store.State) { _, exists = st.Thoughts[thoughtID] })
	if !exists {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
		return
	}

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return
	}
	k := clampK(c.Query("k"))

	idx := search.NewIndexFromMessages(h.Client.Store.Messages(thoughtID))
	results := idx.TopK(q, k)
	if results == nil {
		results = []search.Result{}
	}
	ok(c, http.StatusOK, gin.H{"query": q, "results": results})
}

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

func clampK(raw string) int {
	k := utils.AtoiDefault(raw, defaultSearchK)
	if k < 1 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	return k
}

// failSend maps engine send errors onto the HTTP error taxonomy.
func failSend(c *gin.Context, err error) {
	switch {
	case errors.Is(err, client.ErrThoughtNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thought not found")
	case errors.Is(err, client.ErrEmptyContent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message content is empty")
	case errors.Is(err, client.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message content too long")
	default:
		failPublish(c, err)
	}
}
