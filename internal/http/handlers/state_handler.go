package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/http/middleware"
	"github.com/thoughtsync/thoughtsync/internal/repo"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// GetState returns the full redacted state snapshot: identity (no secret
// key), thoughts sorted by recency, profiles, relays, and the connection
// status. Message windows are deliberately omitted.
func (h *Handlers) GetState(c *gin.Context) {
	st := h.Client.Store.Snapshot()

	thoughts := make([]ThoughtResponse, 0, len(st.Thoughts))
	for _, t := range st.Thoughts {
		thoughts = append(thoughts, thoughtResponse(t))
	}
	sort.Slice(thoughts, func(i, j int) bool {
		if thoughts[i].LastActivity != thoughts[j].LastActivity {
			return thoughts[i].LastActivity > thoughts[j].LastActivity
		}
		return thoughts[i].ID < thoughts[j].ID
	})

	ok(c, http.StatusOK, StateResponse{
		Identity:        identityResponse(st.Identity),
		Thoughts:        thoughts,
		ActiveThoughtID: st.ActiveThoughtID,
		Profiles:        st.Profiles,
		Relays:          st.Relays,
		Status:          st.Status,
		RelayCount:      st.RelayCount,
	})
}

// StatsResponse summarizes the persistence layer for the stats endpoint.
type StatsResponse struct {
	Entries        int64      `json:"entries"`
	MessageWindows int64      `json:"message_windows"`
	LastUpdatedAt  *time.Time `json:"last_updated_at,omitempty"`
	Thoughts       int        `json:"thoughts"`
	Status         string     `json:"status"`
	RelayCount     int        `json:"relay_count"`
}

// GetStats reports aggregate persistence and engine counters.
func (h *Handlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	count, maxUpdated, err := repo.StoreStats(ctx, h.DB)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("store stats query failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not read store stats")
		return
	}
	windows, err := repo.CountPrefix(ctx, h.DB, store.MessageKeyPrefix)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("message window count failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not count message windows")
		return
	}

	st := h.Client.Store.Snapshot()
	ok(c, http.StatusOK, StatsResponse{
		Entries:        count,
		MessageWindows: windows,
		LastUpdatedAt:  maxUpdated,
		Thoughts:       len(st.Thoughts),
		Status:         string(st.Status),
		RelayCount:     st.RelayCount,
	})
}

// Reset disconnects and wipes all local state except the relay list. A
// persistence failure during the wipe is reported, but the in-memory reset
// has already happened by then.
func (h *Handlers) Reset(c *gin.Context) {
	if err := h.Client.Reset(c.Request.Context()); err != nil {
		if errors.Is(err, store.ErrPersistence) {
			fail(c, http.StatusInternalServerError, ErrCodeResetFailed, "reset incomplete: some rows could not be removed")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeResetFailed, "reset failed")
		return
	}
	noContent(c)
}
