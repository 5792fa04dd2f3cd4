package gateway

import (
	"sync"

	"github.com/jes11sy/realtime-service/internal/token"
)

// Registry is the in-memory connection arena: every live socket keyed by socket id, with a secondary index by user
// id. Only authenticated connections appear in the user index; a user may hold multiple sockets.
type Registry struct {
	mu       sync.RWMutex
	bySocket map[string]*Conn
	byUser   map[int64]map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySocket: make(map[string]*Conn),
		byUser:   make(map[int64]map[string]*Conn),
	}
}

// Add registers a pending connection.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySocket[c.id] = c
}

// Authenticate promotes a pending connection: the identity is recorded, the state becomes authenticated, and the
// connection is indexed under its user id. The state check and promotion happen under the connection lock, the same
// lock the grace-timer expiry claims terminated sockets under, so a connection is promoted or expired but never both.
func (r *Registry) Authenticate(c *Conn, id token.Identity) error {
	c.mu.Lock()
	switch c.state {
	case StatePending:
	case StateAuthenticated:
		c.mu.Unlock()
		return ErrAlreadyAuthenticated
	default:
		c.mu.Unlock()
		return ErrAuthTimeout
	}
	c.state = StateAuthenticated
	c.identity = id
	c.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[id.UserID]
	if !ok {
		set = make(map[string]*Conn)
		r.byUser[id.UserID] = set
	}
	set[c.id] = c
	return nil
}

// Remove drops a connection from both indexes and marks it terminated. It is idempotent; the second and later calls
// report wasAuthenticated=false so disconnect side effects run once.
func (r *Registry) Remove(c *Conn) (identity token.Identity, wasAuthenticated bool) {
	r.mu.Lock()
	if _, ok := r.bySocket[c.id]; !ok {
		r.mu.Unlock()
		return token.Identity{}, false
	}
	delete(r.bySocket, c.id)

	c.mu.Lock()
	identity = c.identity
	wasAuthenticated = c.state == StateAuthenticated
	c.state = StateTerminated
	c.mu.Unlock()

	if wasAuthenticated {
		if set, ok := r.byUser[identity.UserID]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(r.byUser, identity.UserID)
			}
		}
	}
	r.mu.Unlock()
	return identity, wasAuthenticated
}

// ConnsForUser returns every authenticated socket held by a user. O(1) index lookup plus a copy.
func (r *Registry) ConnsForUser(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// AuthenticatedConns returns a snapshot of every authenticated connection.
func (r *Registry) AuthenticatedConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.bySocket))
	for _, c := range r.bySocket {
		if c.State() == StateAuthenticated {
			out = append(out, c)
		}
	}
	return out
}

// RoomMembers returns a snapshot of the authenticated connections holding a room. Membership lives on each
// connection; this is the derived "who is in room R" view used during broadcast.
func (r *Registry) RoomMembers(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Conn
	for _, c := range r.bySocket {
		if c.State() == StateAuthenticated && c.InRoom(room) {
			out = append(out, c)
		}
	}
	return out
}

// All returns a snapshot of every registered connection, regardless of state.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.bySocket))
	for _, c := range r.bySocket {
		out = append(out, c)
	}
	return out
}

// Counts reports connection totals by state and the number of distinct authenticated users.
func (r *Registry) Counts() (total, pending, authenticated, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.bySocket)
	users = len(r.byUser)
	for _, c := range r.bySocket {
		switch c.State() {
		case StatePending:
			pending++
		case StateAuthenticated:
			authenticated++
		}
	}
	return total, pending, authenticated, users
}

// RoomCounts returns the member count of every room held by at least one authenticated connection.
func (r *Registry) RoomCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range r.bySocket {
		if c.State() != StateAuthenticated {
			continue
		}
		for _, room := range c.Rooms() {
			counts[room]++
		}
	}
	return counts
}
