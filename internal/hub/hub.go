// Package hub tracks connected websocket clients and delivers outbound
// events. Delivery is best-effort telemetry: failed writes are logged and the
// connection is dropped from the set, never retried.
package hub

import (
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrUnknownConnection is returned by Send when the connection has already
// gone away.
var ErrUnknownConnection = errors.New("unknown connection")

// Envelope is the outbound wire frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type client struct {
	mu   sync.Mutex // serializes writes; gorilla allows one concurrent writer
	conn *websocket.Conn
}

func (c *client) write(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

// Hub is the connected-client set.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Register adds a connection under its id.
func (h *Hub) Register(id string, conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[id] = &client{conn: conn}
	h.mu.Unlock()
}

// Unregister removes a connection. Unknown ids are a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send delivers an event to a single connection.
func (h *Hub) Send(id, event string, data any) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	if err := c.write(Envelope{Event: event, Data: data}); err != nil {
		log.Printf("[hub] send %s to %s failed: %v", event, id, err)
		h.Unregister(id)
		return err
	}
	return nil
}

// Ping writes a ping control frame, serialized against other writes to the
// same connection.
func (h *Hub) Ping(id string) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Broadcast delivers an event to every connected client. Failed writes drop
// the client and the broadcast continues.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.RLock()
	targets := make(map[string]*client, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.RUnlock()

	env := Envelope{Event: event, Data: data}
	for id, c := range targets {
		if err := c.write(env); err != nil {
			log.Printf("[hub] broadcast %s to %s failed: %v", event, id, err)
			h.Unregister(id)
		}
	}
}
