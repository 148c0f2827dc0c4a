package mcp

import (
	"sort"
	"sync"
)

// WatchRegistry maps workflow IDs to the MCP sessions watching them.
// Populated when a client runs a workflow with watch=true.
type WatchRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // workflowID → sessionIDs
}

// NewWatchRegistry creates a new empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch subscribes sessionID to workflowID. Watching twice is a no-op.
func (r *WatchRegistry) Watch(workflowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[workflowID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[workflowID] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching workflowID, sorted.
func (r *WatchRegistry) SessionsFor(workflowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[workflowID]
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove drops every subscription of sessionID.
// Called when a session disconnects.
func (r *WatchRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wid, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, wid)
		}
	}
}
