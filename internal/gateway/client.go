package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateConnected  State = iota // handshake done, no user bound
	StateRegistered              // bound to a user in the presence registry
	StateClosed                  // terminal
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadLimit(int64)
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

// Client is one live connection. Fields below send are owned by the hub
// loop and must not be touched elsewhere.
type Client struct {
	ID       string
	identity string // authenticated user from the HTTP layer, "" if anonymous
	hub      *Hub
	conn     Conn
	send     chan []byte

	state State
	user  string
}

func newClient(h *Hub, conn Conn, identity string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		identity: identity,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
	}
}

func (c *Client) logger() *logrus.Entry {
	return c.hub.log.WithFields(logrus.Fields{
		"conn": c.ID,
		"user": c.user,
	})
}

// readPump decodes inbound frames into hub events until the connection
// fails, then reports the disconnect.
func (c *Client) readPump() {
	defer func() {
		c.hub.Submit(c, DisconnectEvent{})
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithFields(logrus.Fields{"conn": c.ID, "error": err}).Debug("gateway: read failed")
			}
			return
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			ev = invalidEvent{name: eventNameOf(raw), reason: err.Error()}
		}
		if !c.hub.Submit(c, ev) {
			return
		}
		if _, ok := ev.(DisconnectEvent); ok {
			return
		}
	}
}

// writePump drains send onto the connection and keeps it alive with pings.
// It exits when the hub closes send or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
