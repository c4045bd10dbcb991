package core

import "sync"

type registration struct {
	userID string
	conn   Conn
}

// Registry maps user identities to their live connections.
// A user may hold any number of connections at once (tabs, devices).
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]registration
	byUser map[string]map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]registration),
		byUser: make(map[string]map[string]Conn),
	}
}

// Register binds conn to userID. Other connections of the user stay registered.
// Registering a handle again re-binds it (last write wins).
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if prev, ok := r.conns[id]; ok {
		r.detach(prev.userID, id)
	}

	r.conns[id] = registration{userID: userID, conn: conn}
	devices, ok := r.byUser[userID]
	if !ok {
		devices = make(map[string]Conn)
		r.byUser[userID] = devices
	}
	devices[id] = conn
}

// Unregister removes conn. Unknown handles are a no-op.
// Returns true if the handle was registered with this exact connection.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	prev, ok := r.conns[id]
	// A late unregister from a replaced connection must not remove its successor.
	if !ok || prev.conn != conn {
		return false
	}
	delete(r.conns, id)
	r.detach(prev.userID, id)
	return true
}

// ConnectionsFor returns a snapshot of the user's connections, possibly empty.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := r.byUser[userID]
	out := make([]Conn, 0, len(devices))
	for _, c := range devices {
		out = append(out, c)
	}
	return out
}

// UserOf returns the identity conn is registered under.
func (r *Registry) UserOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.conns[conn.ID()]
	if !ok || reg.conn != conn {
		return "", false
	}
	return reg.userID, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Users returns the number of users with at least one connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, reg := range r.conns {
		conns = append(conns, reg.conn)
	}
	r.conns = make(map[string]registration)
	r.byUser = make(map[string]map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// detach must be called with mu held.
func (r *Registry) detach(userID, id string) {
	devices, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(devices, id)
	if len(devices) == 0 {
		delete(r.byUser, userID)
	}
}
