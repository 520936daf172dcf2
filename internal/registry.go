package internal

import "sync"

// SessionRegistry maps authenticated identities to their live connection.
// One active session per identity: registering an identity that is already
// bound supersedes the prior connection (last login wins).
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Client)}
}

// Register binds identity to c and returns the superseded connection, if any.
// The caller is responsible for closing the superseded connection.
func (r *SessionRegistry) Register(identity string, c *Client) (previous *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.sessions[identity]
	if previous == c {
		previous = nil
	}
	r.sessions[identity] = c
	return previous
}

// Lookup returns the live connection for identity, or nil.
func (r *SessionRegistry) Lookup(identity string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[identity]
}

// Remove unbinds identity only if it is still bound to c, so a superseded
// connection's late cleanup cannot evict its successor.
func (r *SessionRegistry) Remove(identity string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[identity] != c {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// InRoom returns a snapshot of the sessions whose current room matches, so
// callers can fan out without holding the registry lock across sends.
func (r *SessionRegistry) InRoom(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var clients []*Client
	for _, c := range r.sessions {
		if c.Room() == room {
			clients = append(clients, c)
		}
	}
	return clients
}

// All returns a snapshot of every registered session.
func (r *SessionRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	return clients
}

// Len reports the number of registered identities.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
