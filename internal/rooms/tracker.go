// Package rooms tracks which chat rooms each realtime connection has joined.
// A connection joins a room when its user opens that chat view and leaves when
// the user navigates away or disconnects. Membership is the signal the
// delivery engine uses to decide whether a receiver is actively viewing a
// chat, which in turn decides immediate-seen versus deferred-seen semantics.
package rooms

import "sync"

// Tracker is a thread-safe map of connection ID to the set of joined room IDs.
type Tracker struct {
	mu     sync.RWMutex
	byConn map[string]map[string]struct{} // connection_id -> set of room_ids
}

// NewTracker creates an empty Tracker ready for use.
func NewTracker() *Tracker {
	return &Tracker{
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds roomID to the connection's membership set.
func (t *Tracker) Join(connID, roomID string) {
	t.mu.Lock()
	set, ok := t.byConn[connID]
	if !ok {
		set = make(map[string]struct{})
		t.byConn[connID] = set
	}
	set[roomID] = struct{}{}
	t.mu.Unlock()
}

// Leave removes roomID from the connection's membership set.
func (t *Tracker) Leave(connID, roomID string) {
	t.mu.Lock()
	if set, ok := t.byConn[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(t.byConn, connID)
		}
	}
	t.mu.Unlock()
}

// IsMember reports whether the connection has roomID joined.
func (t *Tracker) IsMember(connID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.byConn[connID]
	if !ok {
		return false
	}
	_, member := set[roomID]
	return member
}

// Rooms returns a snapshot of the rooms the connection has joined.
func (t *Tracker) Rooms(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.byConn[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for roomID := range set {
		out = append(out, roomID)
	}
	return out
}

// Members returns a snapshot of the connections that have roomID joined.
func (t *Tracker) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for connID, set := range t.byConn {
		if _, member := set[roomID]; member {
			out = append(out, connID)
		}
	}
	return out
}

// DropConnection removes all membership state for a disconnected connection.
func (t *Tracker) DropConnection(connID string) {
	t.mu.Lock()
	delete(t.byConn, connID)
	t.mu.Unlock()
}
