package internal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Large enough for a base64-encoded 64 KiB file chunk plus envelope overhead.
	maxEnvelopeSize = 256 * 1024

	sendQueueSize = 256
)

// Client wraps a single websocket connection, its buffered outbound queue,
// and the session state owned by this connection. The transport object itself
// is never decorated; all mutable per-connection state lives behind the mutex.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	id     string
	addr   string

	mu            sync.Mutex
	username      string
	authenticated bool
	room          string
	sendClosed    bool
	dropped       bool
}

func newClient(server *Server, conn *websocket.Conn, addr string) *Client {
	return &Client{
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		id:     uuid.NewString(),
		addr:   addr,
		room:   defaultRoom,
	}
}

// Identity returns the authenticated username, or "" before login.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Authenticated reports whether this connection has completed a login.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Room returns the session's current room.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// bindIdentity marks the session authenticated under username. It returns the
// previously bound identity, which is non-empty when a second login re-binds
// an already authenticated connection.
func (c *Client) bindIdentity(username string) (previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.username
	c.username = username
	c.authenticated = true
	c.room = defaultRoom
	return previous
}

// trySend queues a payload without blocking. A full queue means the reader is
// too slow to keep up; the caller is expected to drop the client so one stuck
// connection never stalls a broadcast.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound queue exactly once, which makes writePump send
// a close frame and exit.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.server.dropClient(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxEnvelopeSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			// normal close or read error; deferred cleanup runs
			break
		}
		c.server.handleEnvelope(c, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
