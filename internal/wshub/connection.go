package wshub

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendQueueDepth = 256
)

// connection is one subscribed WebSocket client. lastPongUnixMs is read
// by the hub's sweep and written by this connection's own readPump, so it
// is kept as an atomic rather than behind a mutex.
type connection struct {
	id    string
	key   registryKey
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub

	lastPongUnixMs atomic.Int64
}

func newConnection(conn *websocket.Conn, key registryKey, hub *Hub) *connection {
	c := &connection{
		id:   uuid.New().String()[:8],
		key:  key,
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
		hub:  hub,
	}
	c.lastPongUnixMs.Store(time.Now().UnixMilli())
	return c
}

// enqueue pushes payload onto the connection's bounded send queue,
// dropping the oldest buffered message if it is full. The hub's
// broker-subscriber goroutine is this queue's only producer, so the drop
// always makes room for the new message.
func (c *connection) enqueue(payload []byte) {
	select {
	case c.send <- payload:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

// clientMessage is the only inbound shape this hub accepts: a pong reply
// to its heartbeat.
type clientMessage struct {
	Type string `json:"type"`
}

// readPump drains inbound messages, updating lastPongUnixMs on a pong and
// discarding everything else, until the connection errors or closes.
func (c *connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] connection %s read error: %v", c.id, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "pong" {
			c.lastPongUnixMs.Store(time.Now().UnixMilli())
		}
	}
}

// writePump drains the send queue onto the socket. A write error marks
// the connection for removal without retry. Returning when send closes
// sends a close frame, mirroring the teacher's writePump shutdown.
func (c *connection) writePump() {
	defer c.conn.Close()

	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[Hub] connection %s write error: %v", c.id, err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
}
