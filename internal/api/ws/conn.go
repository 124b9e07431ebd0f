package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
}

// conn serializes writes to one websocket. It implements relay.Emitter.
type conn struct {
	id        string
	ws        *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn, writeWait time.Duration) *conn {
	return &conn{id: id, ws: ws, writeWait: writeWait}
}

// Emit writes one envelope. Writes after close are dropped without error.
func (c *conn) Emit(event, data string) error {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// ping may run concurrently with Emit; gorilla allows WriteControl alongside other writers.
func (c *conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.Close()
}
