package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"deckwork/internal/event"
	"deckwork/internal/logging"
	"deckwork/internal/transport"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsClientBuffer = 256
)

// WSHandler streams a user's events over a WebSocket connection.
type WSHandler struct {
	hub      *transport.Hub
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket stream handler.
func NewWSHandler(hub *transport.Hub) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logging.NewComponentLogger("WSHandler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer in front of this.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream upgrades the connection and forwards the user's events as
// JSON text frames until the client goes away. With replay=1 the user's
// buffered history is sent first, so a client reconnecting after a drop can
// catch up on events it missed.
func (h *WSHandler) HandleStream(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed for user %s: %v", userID, err)
		return
	}
	defer conn.Close()

	h.logger.Info("WebSocket connected for user %s", userID)

	clientChan := make(chan event.Event, wsClientBuffer)
	h.hub.RegisterClient(userID, clientChan)
	defer h.hub.UnregisterClient(userID, clientChan)

	if c.Query("replay") == "1" {
		for _, ev := range h.hub.History(userID) {
			if !h.writeEvent(conn, userID, ev) {
				return
			}
		}
	}

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// what surfaces close frames and pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-clientChan:
			if !ok {
				return
			}
			if !h.writeEvent(conn, userID, ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Info("WebSocket ping failed for user %s, closing: %v", userID, err)
				return
			}
		case <-done:
			h.logger.Info("WebSocket closed by user %s", userID)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *WSHandler) writeEvent(conn *websocket.Conn, userID string, ev event.Event) bool {
	frame, err := event.Encode(ev)
	if err != nil {
		h.logger.Error("Failed to encode %s event for user %s: %v", ev.EventType(), userID, err)
		return true
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		h.logger.Info("WebSocket write failed for user %s, closing: %v", userID, err)
		return false
	}
	return true
}
