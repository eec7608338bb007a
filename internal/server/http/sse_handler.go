package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"deckwork/internal/event"
	"deckwork/internal/logging"
	"deckwork/internal/transport"
)

const (
	sseHeartbeatInterval = 30 * time.Second
	sseClientBuffer      = 256
)

// SSEHandler streams a user's events over Server-Sent Events, for clients
// that cannot hold a WebSocket open.
type SSEHandler struct {
	hub    *transport.Hub
	logger logging.Logger
}

// NewSSEHandler creates the SSE stream handler.
func NewSSEHandler(hub *transport.Hub) *SSEHandler {
	return &SSEHandler{
		hub:    hub,
		logger: logging.NewComponentLogger("SSEHandler"),
	}
}

// HandleStream holds the response open and writes one SSE message per event.
// Message format: "event: <kind>\ndata: <json>\n\n", with the same JSON frame
// the WebSocket stream carries.
func (h *SSEHandler) HandleStream(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h.logger.Info("SSE connected for user %s", userID)

	clientChan := make(chan event.Event, sseClientBuffer)
	h.hub.RegisterClient(userID, clientChan)
	defer h.hub.UnregisterClient(userID, clientChan)

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"user_id\":%q}\n\n", userID); err != nil {
		h.logger.Error("Failed to send SSE connection message: %v", err)
		return
	}
	flusher.Flush()

	if c.Query("replay") == "1" {
		for _, ev := range h.hub.History(userID) {
			if !h.writeMessage(w, flusher, userID, ev) {
				return
			}
		}
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-clientChan:
			if !ok {
				return
			}
			if !h.writeMessage(w, flusher, userID, ev) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				h.logger.Info("SSE heartbeat failed for user %s, closing", userID)
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			h.logger.Info("SSE closed for user %s", userID)
			return
		}
	}
}

func (h *SSEHandler) writeMessage(w gin.ResponseWriter, flusher http.Flusher, userID string, ev event.Event) bool {
	frame, err := event.Encode(ev)
	if err != nil {
		h.logger.Error("Failed to encode %s event for user %s: %v", ev.EventType(), userID, err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), frame); err != nil {
		h.logger.Info("SSE write failed for user %s, closing", userID)
		return false
	}
	flusher.Flush()
	return true
}
