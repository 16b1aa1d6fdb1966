package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close code sent to a connection replaced by a newer one for the same user.
const CloseSuperseded = 4000

// ClientConfig tunes per-connection buffers and keepalive.
type ClientConfig struct {
	SendBuffer      int           `mapstructure:"send_buffer"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:      256,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageBytes: 4096,
	}
}

// ClientMessage is the only inbound frame the server understands.
type ClientMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

const MessageIdentify = "identify"

// Client represents a WebSocket connection. The user it identified as is kept
// on the connection so cleanup on close needs no reverse scan.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu        sync.RWMutex
	userID    string
	closed    bool
	closeCode int
	closeText string
}

func newClient(h *Hub, conn *websocket.Conn, id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, buffer),
		id:   id,
	}
}

func (c *Client) ID() string { return c.id }

// UserID returns the identifier this connection registered under, or "".
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// IsOpen reports whether the connection still accepts messages.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowClient
	}
}

// shutdown marks the client closed and closes its send channel; the write
// pump then sends a close frame carrying code and text. Safe to call twice.
func (c *Client) shutdown(code int, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
	return true
}

func (c *Client) closeReason() (int, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode, c.closeText
}

// readPump reads identify messages until the connection fails, then detaches
// the client from the hub.
func (c *Client) readPump() {
	cfg := c.hub.cfg
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Warnw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch msg.Type {
		case MessageIdentify:
			if msg.UserID == "" {
				c.hub.log.Warnw("ws_identify_without_user", "client", c.id)
				continue
			}
			c.hub.Identify(c, msg.UserID)
		default:
			c.hub.log.Debugw("ws_unknown_message", "client", c.id, "type", msg.Type)
		}
	}
}

// writePump drains the send channel one frame per payload and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				code, text := c.closeReason()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debugw("ws_write_failed", "client", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
