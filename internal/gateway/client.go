package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// client is one WebSocket connection. Events are enqueued from the hub
// and written by a dedicated pump so broadcasts never block.
type client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan bus.Event

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, server *Server) *client {
	return &client{
		id:     id,
		conn:   conn,
		server: server,
		send:   make(chan bus.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue hands an event to the write pump. A slow client drops events
// rather than stalling the hub.
func (c *client) enqueue(event bus.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		c.server.logger.Warn("ws client send buffer full, dropping event", "client", c.id, "event", event.Name)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run drives the connection: a write pump on this goroutine and a read
// loop that only services control frames and detects disconnects.
func (c *client) run(ctx context.Context) {
	go c.readLoop()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.server.logger.Debug("ws write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
