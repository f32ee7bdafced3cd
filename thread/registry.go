package thread

import "sync"

// Registry is the global thread set (spec §3: "a holder in the global
// thread set"). corectx.Core holds it as Threads, and corectx.Boot
// installs it with rtsync.SetDepthBound, so the PIP boost-chain walk is
// bounded by Registry.Len() instead of an arbitrary constant, guarding
// against a corrupted/cyclic ownership graph turning into an infinite
// loop.
type Registry struct {
	mu      sync.RWMutex
	threads map[uint64]*Thread
}

// NewRegistry creates an empty global thread set.
func NewRegistry() *Registry {
	return &Registry{threads: make(map[uint64]*Thread)}
}

// Add registers t under its Handle.
func (r *Registry) Add(t *Thread) {
	r.mu.Lock()
	r.threads[t.Handle] = t
	r.mu.Unlock()
}

// Remove drops t from the set.
func (r *Registry) Remove(t *Thread) {
	r.mu.Lock()
	delete(r.threads, t.Handle)
	r.mu.Unlock()
}

// Lookup finds a thread by handle.
func (r *Registry) Lookup(handle uint64) (*Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[handle]
	return t, ok
}

// Len reports how many threads are currently registered, or 1 when none
// are, so that it is never zero when used as a depth bound.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.threads)
	if n == 0 {
		return 1
	}
	return n
}
