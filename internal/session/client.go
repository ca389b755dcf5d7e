package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeWait bounds every outbound write so a stalled peer surfaces as a send
// error instead of blocking the broadcast loop (var so tests can shrink it).
var writeWait = 10 * time.Second

// Client wraps one websocket connection. Sends are serialized with a mutex
// because broadcasts and direct replies can race on the same socket.
type Client struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
	hook func(any) error
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{ID: uuid.NewString(), conn: conn}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(any) error) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send writes one JSON frame. A non-nil error means the connection should be
// treated as gone.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hook != nil {
		return c.hook(v)
	}
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Close tears down the underlying connection, unblocking any pending read.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
