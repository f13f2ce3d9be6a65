// Package world tracks the world servers connected to the gateway and which
// accounts are logged in where.
package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// wireConn is the websocket surface a Connection needs.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connection is one connected world server's control link. Writes are
// serialized; gorilla/websocket connections allow only one concurrent
// writer.
type Connection struct {
	mu   sync.Mutex
	conn wireConn
}

// NewConnection wraps an established websocket connection.
func NewConnection(conn *websocket.Conn) *Connection {
	return &Connection{conn: conn}
}

// SendPacket delivers a binary packet over the link.
func (c *Connection) SendPacket(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is closed")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// Close shuts the link down.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Registry holds the connected world servers by ID.
type Registry struct {
	mu     sync.Mutex
	worlds map[int]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{worlds: make(map[int]*Connection)}
}

// Register adds or replaces the connection for a world. A replaced
// connection is closed.
func (r *Registry) Register(worldID int, conn *Connection) {
	r.mu.Lock()
	previous := r.worlds[worldID]
	r.worlds[worldID] = conn
	r.mu.Unlock()
	if previous != nil && previous != conn {
		_ = previous.Close()
	}
}

// Unregister removes and closes the connection for a world.
func (r *Registry) Unregister(worldID int) {
	r.mu.Lock()
	conn := r.worlds[worldID]
	delete(r.worlds, worldID)
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Get returns the connection for a world.
func (r *Registry) Get(worldID int) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.worlds[worldID]
	return conn, ok
}

// Has reports whether a world is connected.
func (r *Registry) Has(worldID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.worlds[worldID]
	return ok
}

// IDs returns the connected world IDs in ascending order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.worlds))
	for id := range r.worlds {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SendPacket delivers a packet to one world.
func (r *Registry) SendPacket(worldID int, payload []byte) error {
	conn, ok := r.Get(worldID)
	if !ok {
		return fmt.Errorf("world %d is not connected", worldID)
	}
	return conn.SendPacket(payload)
}

// Broadcast delivers a packet to every connected world and returns how many
// deliveries succeeded.
func (r *Registry) Broadcast(payload []byte) int {
	delivered := 0
	for _, id := range r.IDs() {
		if err := r.SendPacket(id, payload); err == nil {
			delivered++
		}
	}
	return delivered
}
