package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientMessage is an inbound message from a web client.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Content   string `json:"content,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

// Inbound message types.
const (
	MsgChat   = "message"
	MsgReset  = "reset"
	MsgStatus = "status"
	MsgPing   = "ping"
)

// EventMessage is a server-initiated event pushed to clients.
type EventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Advanced  bool   `json:"advanced,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is one connected WebSocket peer. Writes go through WriteJSON so
// concurrent broadcasts never interleave frames.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	mu        sync.Mutex
	sessionID string
}

// WriteJSON sends one JSON frame to the client.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// BindSession records the session this client is following.
func (c *Client) BindSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// SessionID returns the session this client is following, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
