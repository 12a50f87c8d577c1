package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a real-time notification pushed to clients.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// NewMessage creates a Message with Type derived from entity and action.
func NewMessage(entity, action, id string, data any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// Hub tracks connected clients and fans out messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg Message) {
	h.fanOut(msg, func(*Client) bool { return true })
}

// BroadcastAdmins sends msg to admin clients only.
func (h *Hub) BroadcastAdmins(msg Message) {
	h.fanOut(msg, func(c *Client) bool { return c.admin })
}

// SendTo sends msg to every client of the session identified by key and
// returns how many were reached.
func (h *Hub) SendTo(key string, msg Message) int {
	return h.fanOut(msg, func(c *Client) bool { return c.key == key })
}

// Disconnect unregisters every client of the session, which closes their
// connections once pending messages are written.
func (h *Hub) Disconnect(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.key == key {
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) fanOut(msg Message, match func(*Client) bool) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
			sent++
		default:
			// Buffer full: drop rather than block.
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
