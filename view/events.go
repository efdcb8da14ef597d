package view

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/davidakpele/chatengine/conversation"
)

// streamEvents pushes a "state" event on every store change until the client
// goes away. Changes that arrive while a write is pending are coalesced into
// the next event.
func (h *Handler) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	changed := make(chan struct{}, 1)
	unsubscribe := h.backend.Store().Subscribe(func(conversation.State) {
		// Subscribers run while the session client holds its lock, so this
		// must never block.
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if !h.writeState(c) {
		return
	}
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-changed:
			return h.writeState(c)
		}
	})
}

func (h *Handler) writeState(c *gin.Context) bool {
	data, err := json.Marshal(h.buildState(h.backend.Store().Snapshot()))
	if err != nil {
		h.Logger.Printf("Error encoding state event: %v", err)
		c.SSEvent("error", err.Error())
		c.Writer.Flush()
		return false
	}
	c.SSEvent("state", string(data))
	c.Writer.Flush()
	return true
}
