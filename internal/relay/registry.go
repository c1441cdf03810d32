package relay

import (
	"sync"
	"time"
)

// Sink is the transport back-reference used to push bytes to a client.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Connection is the relay-side state of one transport session.
type Connection struct {
	ID   string
	sink Sink

	// op serializes state transitions of this connection
	// (Handle, Disconnect, liveness expiry).
	op sync.Mutex

	mu       sync.RWMutex
	role     Role
	roomID   string
	name     string
	lastSeen time.Time
	closed   bool
}

func (c *Connection) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

func (c *Connection) membership() (Role, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role, c.roomID
}

func (c *Connection) assign(role Role, roomID, name string) {
	c.mu.Lock()
	c.role, c.roomID, c.name = role, roomID, name
	c.mu.Unlock()
}

func (c *Connection) touch(at time.Time) {
	c.mu.Lock()
	c.lastSeen = at
	c.mu.Unlock()
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// markClosed reports whether this call performed the transition.
func (c *Connection) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Registry owns the set of live connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register inserts an unassigned connection.
func (r *Registry) Register(id string, sink Sink, now time.Time) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return nil, ErrDuplicateConnection
	}
	c := &Connection{ID: id, sink: sink, lastSeen: now}
	r.conns[id] = c
	return c, nil
}

// Get may miss when the connection closed while a frame was in flight.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove is a no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *Registry) Live(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot copies the current connections so callers can do I/O without
// holding the registry lock.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
