// Package events streams pipeline progress to websocket subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/pkg/logger"
)

const (
	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	maxMessageSize = 512
	sendBuffer     = 64
)

// Hub fans engine events out to connected websocket clients. Publish never
// blocks; a subscriber that cannot keep up is disconnected.
type Hub struct {
	logger   *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ engine.Publisher = (*Hub)(nil)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish broadcasts one event to every subscriber.
func (h *Hub) Publish(event engine.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Subscriber fell behind; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and subscribes the connection to the
// event stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	subscribers := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(map[string]interface{}{
		"remote":      conn.RemoteAddr().String(),
		"subscribers": subscribers,
	}).Debug("Event subscriber connected")

	go h.writePump(c)
	go h.readPump(c)
}

// drop unregisters the client. Safe to call more than once.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	c.conn.Close()
}

// writePump is the only writer on the connection. It forwards events and
// keeps the connection alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump drains the connection so control frames are processed. The
// stream is one-way; inbound data messages are discarded.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
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
