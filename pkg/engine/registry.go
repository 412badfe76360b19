package engine

import (
	"sort"
	"sync"
)

// Registry maps chart identifiers to their live handles. It holds no
// ownership logic; cleanup belongs to the Controller.
type Registry struct {
	mu     sync.RWMutex
	charts map[string]*ChartHandle
}

// NewRegistry creates an empty chart registry.
func NewRegistry() *Registry {
	return &Registry{charts: make(map[string]*ChartHandle)}
}

// Set stores handle under id, replacing any previous handle.
func (r *Registry) Set(id string, handle *ChartHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charts[id] = handle
}

// Get returns the handle registered under id.
func (r *Registry) Get(id string) (*ChartHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.charts[id]
	return h, ok
}

// Delete removes id. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.charts, id)
}

// IDs returns the registered ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.charts))
	for id := range r.charts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered charts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.charts)
}
