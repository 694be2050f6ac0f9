package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// GetRelays returns the configured relay set and the connection status.
func (h *Handlers) GetRelays(c *gin.Context) {
	st := h.Client.Store.Snapshot()
	ok(c, http.StatusOK, gin.H{
		"relays":      st.Relays,
		"status":      st.Status,
		"relay_count": st.RelayCount,
	})
}

// putRelaysRequest replaces the relay set wholesale.
type putRelaysRequest struct {
	Relays []string `json:"relays"`
}

// PutRelays replaces the relay set, persists it, and reconnects when the
// gateway was live. An empty list is allowed; it just leaves the node
// offline until relays are configured again.
func (h *Handlers) PutRelays(c *gin.Context) {
	var req putRelaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	for _, u := range req.Relays {
		u = strings.TrimSpace(u)
		if u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "relay urls must use ws:// or wss://")
			return
		}
	}

	if err := h.Client.SetRelays(c.Request.Context(), req.Relays); err != nil {
		switch {
		case errors.Is(err, store.ErrPersistence):
			fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "relay set could not be persisted")
		case errors.Is(err, gateway.ErrTransport):
			fail(c, http.StatusBadGateway, ErrCodeConnectFailed, "relay set saved but reconnect failed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "relay update failed")
		}
		return
	}

	st := h.Client.Store.Snapshot()
	ok(c, http.StatusOK, gin.H{"relays": st.Relays, "status": st.Status})
}

// Connect opens the live subscriptions against the configured relays.
func (h *Handlers) Connect(c *gin.Context) {
	if err := h.Client.Connect(); err != nil {
		switch {
		case errors.Is(err, gateway.ErrNoRelays):
			fail(c, http.StatusServiceUnavailable, ErrCodeNoRelays, "relay set is empty")
		default:
			fail(c, http.StatusBadGateway, ErrCodeConnectFailed, "connect failed")
		}
		return
	}
	status, relayCount := h.Client.Store.Status()
	ok(c, http.StatusOK, gin.H{"status": status, "relay_count": relayCount})
}

// Disconnect tears down the live subscriptions.
func (h *Handlers) Disconnect(c *gin.Context) {
	h.Client.Disconnect()
	status, relayCount := h.Client.Store.Status()
	ok(c, http.StatusOK, gin.H{"status": status, "relay_count": relayCount})
}

// GetConnection reports the current connection status.
func (h *Handlers) GetConnection(c *gin.Context) {
	status, relayCount := h.Client.Store.Status()
	ok(c, http.StatusOK, gin.H{"status": status, "relay_count": relayCount})
}
