// Package hub owns the live WebSocket connections: it accepts them, keeps the
// user registry current as clients identify, and delivers execution reports
// either to one user or to every open connection.
package hub

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/orderrelay/pkg/metrics"
)

// Hub maintains active WebSocket connections and the user registry.
type Hub struct {
	cfg      ClientConfig
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	registry *Registry
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub(cfg ClientConfig, log *zap.SugaredLogger) *Hub {
	return &Hub{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the UI origin; there is no auth to protect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: NewRegistry(),
		clients:  make(map[*Client]struct{}),
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	id := fmt.Sprintf("c%d@%s", h.nextID.Add(1), conn.RemoteAddr())
	client := newClient(h, conn, id, h.cfg.SendBuffer)
	h.attach(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	h.log.Infow("ws_client_connected", "client", c.id, "total", total)
}

// detach forgets c entirely; called once its read pump has stopped.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	_, tracked := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	removed := h.registry.Remove(c)
	c.shutdown(websocket.CloseNormalClosure, "")

	if !tracked {
		return
	}
	metrics.WSConnections.Set(float64(total))
	metrics.WSRegistered.Set(float64(h.registry.Len()))
	if removed {
		h.log.Infow("ws_user_disconnected", "client", c.id, "user", c.UserID(), "total", total)
	} else {
		h.log.Infow("ws_client_disconnected", "client", c.id, "total", total)
	}
}

// Identify registers c under userID. A different connection already
// registered for userID is closed with CloseSuperseded.
func (h *Hub) Identify(c *Client, userID string) {
	if !c.IsOpen() {
		return
	}
	evicted := h.registry.Register(userID, c)
	metrics.WSRegistered.Set(float64(h.registry.Len()))
	h.log.Infow("ws_user_registered", "client", c.id, "user", userID)

	if evicted != nil {
		if evicted.shutdown(CloseSuperseded, "superseded by a newer connection") {
			metrics.WSEvictions.Inc()
			h.log.Warnw("ws_user_superseded", "user", userID, "old_client", evicted.id, "new_client", c.id)
		}
	}
}

// Lookup returns the connection registered for userID.
func (h *Hub) Lookup(userID string) (*Client, bool) {
	return h.registry.Lookup(userID)
}

// Connections is the number of tracked connections, open or closing.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Registered is the number of identifiers with a live registration.
func (h *Hub) Registered() int {
	return h.registry.Len()
}

// Close sends a going-away close frame to every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}
