package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/gin-gonic/gin"
)

// handleRealtimeStream relays realtime messages as Server-Sent Events until the client leaves.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	if h.realtime == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "realtime_unavailable",
			"message": "realtime stream is not enabled",
		})
		return
	}

	ctx := c.Request.Context()
	messages, unsubscribe := h.realtime.Subscribe(ctx)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-messages:
			c.SSEvent(message.EventType, message)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent(realtime.EventHeartbeat, realtime.Message{Timestamp: now.UTC()})
			c.Writer.Flush()
		}
	}
}
