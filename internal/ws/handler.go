package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"kotakwatch/internal/middleware"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and the token check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests to event websockets.
// Expected URL: /ws/events?token=<jwt>
type Handler struct {
	hub  *EventHub
	auth *middleware.StreamAuth
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *EventHub, auth *middleware.StreamAuth) *Handler {
	return &Handler{hub: hub, auth: auth}
}

// ServeHTTP handles WebSocket upgrade requests. A JWT is required because
// events are scoped to the token's tenant.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.auth.Check(r)
	if !ok || claims == nil {
		middleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized websocket")
		return
	}
	tenantID := claims.TenantID()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn("upgrade failed", "error", err)
		return
	}
	h.hub.log.Info("new connection", "masjid_id", tenantID, "remote", r.RemoteAddr)

	c := &client{conn: conn}
	h.hub.register(tenantID, c)
	go h.readPump(tenantID, c)
}

// readPump keeps the connection alive and detects disconnection.
func (h *Handler) readPump(tenantID int64, c *client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(tenantID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.log.Debug("read error", "masjid_id", tenantID, "error", err)
			}
			return
		}
	}
}
