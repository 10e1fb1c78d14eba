package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kotakwatch/internal/pipeline"
)

const writeWait = 10 * time.Second

// client serializes writes; a websocket allows one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// EventHub fans pipeline events out to websocket clients of the same tenant.
type EventHub struct {
	// clients maps tenant id -> set of connections
	clients map[int64]map[*client]bool
	mu      sync.RWMutex
	log     *slog.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[int64]map[*client]bool),
		log:     slog.Default().With("component", "ws"),
	}
}

func (h *EventHub) register(tenantID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[tenantID] == nil {
		h.clients[tenantID] = make(map[*client]bool)
	}
	h.clients[tenantID][c] = true
	h.log.Info("client registered", "masjid_id", tenantID, "total", len(h.clients[tenantID]))
}

func (h *EventHub) unregister(tenantID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[tenantID]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, tenantID)
		}
		h.log.Info("client unregistered", "masjid_id", tenantID)
	}
}

// HasClients returns true if any client of the tenant is connected.
func (h *EventHub) HasClients(tenantID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID]) > 0
}

// ClientCount returns the total number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Broadcast sends message to every client of a tenant. Clients that fail a
// write are dropped.
func (h *EventHub) Broadcast(tenantID int64, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[tenantID]))
	for c := range h.clients[tenantID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.log.Debug("dropping client after write error", "masjid_id", tenantID, "error", err)
			h.unregister(tenantID, c)
			c.conn.Close()
		}
	}
}

// Publish encodes ev and broadcasts it to the event's tenant.
func (h *EventHub) Publish(ev pipeline.Event) {
	if !h.HasClients(ev.TenantID) {
		return
	}
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		h.log.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	h.Broadcast(ev.TenantID, data)
}

// Run forwards events until ctx is done or events is closed. It keeps slow
// websocket writes off the capture worker.
func (h *EventHub) Run(ctx context.Context, events <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for tenantID, conns := range h.clients {
		for c := range conns {
			c.conn.Close()
		}
		delete(h.clients, tenantID)
	}
}
