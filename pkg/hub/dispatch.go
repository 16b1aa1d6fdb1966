package hub

import "errors"

var (
	// ErrNotRegistered means no connection identified as the target user.
	ErrNotRegistered = errors.New("hub: user not registered")
	// ErrClosed means the connection is closing or closed.
	ErrClosed = errors.New("hub: connection closed")
	// ErrSlowClient means the connection's send buffer is full; the payload was dropped.
	ErrSlowClient = errors.New("hub: send buffer full")
)

// SendTo delivers payload to the connection registered for userID. Nothing
// is queued for later: a miss is reported and the payload is gone.
func (h *Hub) SendTo(userID string, payload []byte) error {
	c, ok := h.registry.Lookup(userID)
	if !ok {
		return ErrNotRegistered
	}
	return c.Send(payload)
}

// Broadcast delivers payload to every open connection and returns how many
// accepted it. Closed and full connections are skipped.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if err := c.Send(payload); err == nil {
			sent++
		}
	}
	return sent
}
