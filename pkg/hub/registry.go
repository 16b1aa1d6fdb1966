package hub

import "sync"

// Registry maps a user identifier to the connection that most recently
// identified as that user.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Client)}
}

// Register maps userID to c, last registration wins. It returns the connection
// previously registered under userID, if any and if it is not c, so the caller
// can close it. A client that re-identifies under a new user loses its old entry.
func (r *Registry) Register(userID string, c *Client) (evicted *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old := c.UserID(); old != "" && old != userID && r.byUser[old] == c {
		delete(r.byUser, old)
	}

	prev := r.byUser[userID]
	r.byUser[userID] = c
	c.setUserID(userID)

	if prev == c {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Remove drops the entry for c's own user, but only while that entry still
// points at c. A superseded connection closing late leaves the newer one alone.
func (r *Registry) Remove(c *Client) bool {
	userID := c.UserID()
	if userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[userID] != c {
		return false
	}
	delete(r.byUser, userID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
