package publishing

import (
	"sort"
	"sync"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Registry maps platforms to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[content.Platform]Adapter
}

// NewRegistry registers adapters keyed by their platform.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[content.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

// Lookup returns the adapter for p.
func (r *Registry) Lookup(p content.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms lists registered platforms in name order.
func (r *Registry) Platforms() []content.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]content.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
