package pool

import "sync"

// Registry is the process-wide pool directory. Creation is
// insert-if-absent under a narrow mutex: two concurrent creates for the
// same pair converge on one pool, and lookups after the map read run
// lock-free on the pool itself.
type Registry struct {
	mu    sync.Mutex
	pools map[Pair]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[Pair]*Pool)}
}

// Ensure returns the pool for pair, creating it with cfg when absent.
// The bool reports whether this call created it; a loser of a creation
// race gets the winner's pool and false.
func (r *Registry) Ensure(pair Pair, cfg Config, now int64) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[pair]; ok {
		return p, false
	}
	p := NewPool(pair, cfg, now)
	r.pools[pair] = p
	return p, true
}

// Put installs a rebuilt pool, replacing any existing entry. Used when
// loading a snapshot before traffic starts.
func (r *Registry) Put(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.pair] = p
}

// Get looks up an existing pool.
func (r *Registry) Get(pair Pair) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pair]
	return p, ok
}

// Pairs lists the registered pairs in no particular order.
func (r *Registry) Pairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pair, 0, len(r.pools))
	for pair := range r.pools {
		out = append(out, pair)
	}
	return out
}
