package transport

import (
	"sync"

	"deckwork/internal/event"
	"deckwork/internal/logging"
)

// Hub implements event.Listener and fans events out to the subscribed
// clients of the addressed user. Delivery is best-effort and at-least-once
// per connection: sends never block, slow consumers lose events, and
// terminal events evict the oldest buffered event to get through. Events
// are only ever delivered to clients of the user they are addressed to.
type Hub struct {
	// userID -> list of client channels
	clients map[string][]chan event.Event
	mu      sync.RWMutex
	logger  logging.Logger

	// Recent events per user for replay on reconnect.
	history    map[string][]event.Event
	historyMu  sync.RWMutex
	maxHistory int

	metrics hubMetrics
}

// hubMetrics tracks hub performance counters.
type hubMetrics struct {
	mu sync.RWMutex

	totalEventsSent   int64
	droppedEvents     int64 // events dropped due to full buffers
	totalConnections  int64
	activeConnections int64
}

// NewHub creates an event hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[string][]chan event.Event),
		history:    make(map[string][]event.Event),
		maxHistory: 500,
		logger:     logging.OrNop(logger),
	}
}

// OnEvent implements event.Listener: it records the event for replay and
// delivers it to every client of the addressed user. Events without a user
// are dropped; broadcasting them would leak one session's progress into
// another's.
func (h *Hub) OnEvent(ev event.Event) {
	if ev == nil {
		return
	}

	userID := ev.GetUserID()
	if userID == "" {
		h.logger.Warn("Dropping unaddressed event type=%s", ev.EventType())
		return
	}

	h.storeHistory(userID, ev)

	h.mu.RLock()
	clients, ok := h.clients[userID]
	if ok {
		h.deliverToClients(userID, clients, ev)
	} else {
		h.logger.Debug("No clients connected for user %s (event: %s)", userID, ev.EventType())
	}
	h.mu.RUnlock()
}

// deliverToClients sends the event to each client channel without blocking.
func (h *Hub) deliverToClients(userID string, clients []chan event.Event, ev event.Event) {
	for i, ch := range clients {
		select {
		case ch <- ev:
			h.metrics.incrementEventsSent()
		default:
			if h.ensureTerminalDelivery(userID, i, len(clients), ch, ev) {
				continue
			}
			h.logger.Warn("Client buffer full for user %s, dropping event %s (client %d/%d)", userID, ev.EventType(), i+1, len(clients))
			h.metrics.incrementDroppedEvents()
		}
	}
}

// ensureTerminalDelivery makes room for events that end a generation. A lost
// progress event is recoverable; a lost terminal event would leave the client
// spinning forever.
func (h *Hub) ensureTerminalDelivery(userID string, clientIndex, totalClients int, ch chan event.Event, ev event.Event) bool {
	if !event.IsTerminal(ev) {
		return false
	}

	// Retry first in case the consumer drained the buffer meanwhile.
	select {
	case ch <- ev:
		h.metrics.incrementEventsSent()
		return true
	default:
	}

	// Drop the oldest buffered event to make room.
	select {
	case <-ch:
	default:
		h.logger.Warn("Failed to free space for terminal event %s for user %s (client %d/%d)", ev.EventType(), userID, clientIndex+1, totalClients)
		return false
	}

	select {
	case ch <- ev:
		h.logger.Warn("Client buffer saturated for user %s; dropped oldest event to deliver terminal %s (client %d/%d)", userID, ev.EventType(), clientIndex+1, totalClients)
		h.metrics.incrementEventsSent()
		return true
	default:
		h.logger.Warn("Client buffer refilled before delivering terminal %s for user %s (client %d/%d)", ev.EventType(), userID, clientIndex+1, totalClients)
		return false
	}
}

// RegisterClient subscribes a client channel to a user's event stream. The
// channel should be buffered; the hub never blocks on it.
func (h *Hub) RegisterClient(userID string, ch chan event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[userID] = append(h.clients[userID], ch)
	h.metrics.incrementConnections()
	h.logger.Info("Client registered for user %s (total: %d)", userID, len(h.clients[userID]))
}

// UnregisterClient removes a client channel and closes it.
func (h *Hub) UnregisterClient(userID string, ch chan event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[userID]
	for i, client := range clients {
		if client == ch {
			h.clients[userID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			h.metrics.decrementConnections()
			h.logger.Info("Client unregistered from user %s (remaining: %d)", userID, len(h.clients[userID]))

			if len(h.clients[userID]) == 0 {
				delete(h.clients, userID)
			}
			break
		}
	}
}

// ClientCount returns the number of clients subscribed for a user.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// Shutdown closes every client channel.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.clients {
		for _, ch := range clients {
			close(ch)
		}
		delete(h.clients, userID)
	}
	h.logger.Info("Hub shut down, all clients disconnected")
}

func (h *Hub) storeHistory(userID string, ev event.Event) {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()

	history := append(h.history[userID], ev)
	if len(history) > h.maxHistory {
		history = history[len(history)-h.maxHistory:]
	}
	h.history[userID] = history
}

// History returns a copy of the recent events recorded for a user, oldest
// first, for replay to reconnecting clients.
func (h *Hub) History(userID string) []event.Event {
	h.historyMu.RLock()
	defer h.historyMu.RUnlock()

	history := h.history[userID]
	if len(history) == 0 {
		return nil
	}
	historyCopy := make([]event.Event, len(history))
	copy(historyCopy, history)
	return historyCopy
}

// ClearHistory drops the recorded events for a user, typically once their
// generation reached a terminal state and the artifact is persisted.
func (h *Hub) ClearHistory(userID string) {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()

	delete(h.history, userID)
}

// Metrics helper methods
func (m *hubMetrics) incrementEventsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalEventsSent++
}

func (m *hubMetrics) incrementDroppedEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedEvents++
}

func (m *hubMetrics) incrementConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalConnections++
	m.activeConnections++
}

func (m *hubMetrics) decrementConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConnections--
}

// Metrics is a snapshot of hub counters for export.
type Metrics struct {
	TotalEventsSent   int64          `json:"total_events_sent"`
	DroppedEvents     int64          `json:"dropped_events"`
	TotalConnections  int64          `json:"total_connections"`
	ActiveConnections int64          `json:"active_connections"`
	BufferDepth       map[string]int `json:"buffer_depth"` // per-user buffered event count
	UserCount         int            `json:"user_count"`
}

// GetMetrics returns current hub counters.
func (h *Hub) GetMetrics() Metrics {
	h.metrics.mu.RLock()
	totalEvents := h.metrics.totalEventsSent
	droppedEvents := h.metrics.droppedEvents
	totalConns := h.metrics.totalConnections
	activeConns := h.metrics.activeConnections
	h.metrics.mu.RUnlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	bufferDepth := make(map[string]int)
	for userID, clients := range h.clients {
		totalDepth := 0
		for _, ch := range clients {
			totalDepth += len(ch)
		}
		if totalDepth > 0 {
			bufferDepth[userID] = totalDepth
		}
	}

	return Metrics{
		TotalEventsSent:   totalEvents,
		DroppedEvents:     droppedEvents,
		TotalConnections:  totalConns,
		ActiveConnections: activeConns,
		BufferDepth:       bufferDepth,
		UserCount:         len(h.clients),
	}
}
