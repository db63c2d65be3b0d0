// Package presence tracks which realtime connection, if any, currently
// belongs to each user. A user has at most one live connection; a new
// connection for the same user supersedes the previous entry without
// closing the old transport session.
package presence

import "sync"

// Registry is a thread-safe map of user ID to active connection ID.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string // user_id -> connection_id
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
	}
}

// Register binds a connection to a user. Any existing entry for the user is
// overwritten (last connect wins).
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	r.byUser[userID] = connID
	r.mu.Unlock()
}

// Unregister removes the user's entry only if it still points at connID.
// A disconnect for a connection that has already been superseded by a newer
// one must not evict the newer entry. Returns true if an entry was removed.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[userID]
	if !ok || current != connID {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Lookup returns the connection ID for the given user, and whether the user
// currently has a live connection.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	connID, ok := r.byUser[userID]
	r.mu.RUnlock()
	return connID, ok
}

// Count returns the number of users with a live connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}
