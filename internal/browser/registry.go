package browser

import (
	"sort"
	"sync"

	"livepatch/internal/types"
)

type entry struct {
	exec     types.PageExecutor
	targetID string
}

// Registry maps tab ids to page executors. Entries live exactly as long as
// the tab: Manager removes them when Chrome destroys the target.
type Registry struct {
	mu      sync.RWMutex
	tabs    map[string]entry
	onClose []func(id string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tabs: make(map[string]entry)}
}

// Add registers a rod tab under its id.
func (r *Registry) Add(tab *Tab) {
	r.mu.Lock()
	r.tabs[tab.ID] = entry{exec: tab, targetID: tab.TargetID}
	r.mu.Unlock()
}

// Register adds any executor under id, replacing a previous one.
func (r *Registry) Register(id string, exec types.PageExecutor) {
	r.mu.Lock()
	r.tabs[id] = entry{exec: exec}
	r.mu.Unlock()
}

// Lookup returns the executor for a tab.
func (r *Registry) Lookup(id string) (types.PageExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tabs[id]
	if !ok {
		return nil, false
	}
	return e.exec, true
}

// Tab returns the rod tab registered under id.
func (r *Registry) Tab(id string) (*Tab, bool) {
	exec, ok := r.Lookup(id)
	if !ok {
		return nil, false
	}
	tab, ok := exec.(*Tab)
	return tab, ok
}

// IDs lists registered tab ids in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnClose registers fn to run after a tab is removed.
func (r *Registry) OnClose(fn func(id string)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

// Remove drops a tab. It reports whether the tab was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.tabs[id]
	delete(r.tabs, id)
	hooks := append([]func(string){}, r.onClose...)
	r.mu.Unlock()

	if ok {
		for _, fn := range hooks {
			fn(id)
		}
	}
	return ok
}

// RemoveTarget drops the tab bound to a Chrome target id.
func (r *Registry) RemoveTarget(targetID string) (string, bool) {
	r.mu.RLock()
	var id string
	for tabID, e := range r.tabs {
		if e.targetID != "" && e.targetID == targetID {
			id = tabID
			break
		}
	}
	r.mu.RUnlock()
	if id == "" {
		return "", false
	}
	return id, r.Remove(id)
}
