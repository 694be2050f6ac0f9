package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/store"
)

// eventBuffer sizes each SSE subscriber's channel. The notifier drops events
// on a full buffer, so slow consumers miss bursts rather than stalling the
// engine; StateUpdated is a level trigger, so a dropped event only delays the
// next refresh.
const eventBuffer = 32

// StreamEvents serves the store's notification stream as server-sent events.
// Each notification becomes one SSE message whose event name is the
// notification type and whose data is the JSON payload. The stream ends when
// the client disconnects or the store closes.
func (h *Handlers) StreamEvents(c *gin.Context) {
	ch, cancel := h.Client.Store.Notifier().Subscribe(eventBuffer)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Prime the stream so clients render state immediately on connect.
	c.SSEvent(string(store.StateUpdated), store.Event{Type: store.StateUpdated})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
