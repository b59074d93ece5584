package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/RipMyLoven/ani/internal/relay"
	"github.com/RipMyLoven/ani/pkg/transport"
)

// Client binds an authenticated principal to a live transport connection.
// The gateway owns it for the connection's lifetime; everything else refers
// to it by connection id through the registry.
type Client struct {
	conn        *transport.Connection
	principalID string
	username    string

	teardownOnce sync.Once
}

func newClient(conn *transport.Connection, principalID, username string) *Client {
	return &Client{conn: conn, principalID: principalID, username: username}
}

func (c *Client) ConnID() uuid.UUID   { return c.conn.ID() }
func (c *Client) PrincipalID() string { return c.principalID }
func (c *Client) Username() string    { return c.username }
func (c *Client) Send(msg []byte)     { c.conn.Send(msg) }

// Registry is the process-wide set of live clients, keyed by connection id
// and by owning principal.
type Registry struct {
	mu          sync.RWMutex
	byConn      map[uuid.UUID]*Client
	byPrincipal map[string]map[uuid.UUID]*Client
}

var _ relay.Directory = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		byConn:      make(map[uuid.UUID]*Client),
		byPrincipal: make(map[string]map[uuid.UUID]*Client),
	}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConn[c.ConnID()] = c
	conns, ok := r.byPrincipal[c.principalID]
	if !ok {
		conns = make(map[uuid.UUID]*Client)
		r.byPrincipal[c.principalID] = conns
	}
	conns[c.ConnID()] = c
}

// Remove deletes the client and reports whether it was still registered.
func (r *Registry) Remove(connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byConn[connID]
	if !ok {
		return false
	}
	delete(r.byConn, connID)
	if conns, ok := r.byPrincipal[c.principalID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byPrincipal, c.principalID)
		}
	}
	return true
}

// Client implements relay.Directory.
func (r *Registry) Client(connID uuid.UUID) (relay.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return c, true
}

// ClientsFor returns a snapshot of the principal's live clients.
func (r *Registry) ClientsFor(principalID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.byPrincipal[principalID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// CountFor returns the number of live connections owned by a principal.
func (r *Registry) CountFor(principalID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal[principalID])
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// All returns a snapshot of every live client.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}
