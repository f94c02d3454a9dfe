// Package wshub fans messages out to the websocket clients of the
// interpreter API.
package wshub

import (
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected clients and broadcasts to all of them.
type Hub struct {
	upgrader websocket.Upgrader
	greeting func() [][]byte
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. greeting, when not nil, returns the messages a new
// client receives before any broadcast.
func NewHub(greeting func() [][]byte) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Consumers are on the local network
			},
		},
		greeting: greeting,
		logger:   logging.Component("wshub"),
		clients:  make(map[*client]bool),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	c := &client{conn: conn}

	// Hold the write lock so broadcasts queue up behind the greeting
	c.writeMu.Lock()
	h.add(c)
	if h.greeting != nil {
		for _, msg := range h.greeting() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.writeMu.Unlock()
				h.remove(c)
				return
			}
		}
	}
	c.writeMu.Unlock()

	// Keep connection alive, answering pings, until the client leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// Broadcast sends data to every client, dropping the ones that fail.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping websocket client")
			h.remove(c)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}
