// Package registry holds the fixed, ordered set of ledger nodes and the
// session-scoped preferred index used for failover.
package registry

import (
	"sync"

	"ledgerwatch.mini/lwm/internal/types"
)

// Registry is safe for concurrent use. The preferred index lives on the
// instance and is never persisted.
type Registry struct {
	mu        sync.RWMutex
	nodes     []types.Node
	preferred int
}

// New builds a registry from base URIs in configured order. The first node
// starts as preferred.
func New(addresses []string) *Registry {
	nodes := make([]types.Node, len(addresses))
	for i, addr := range addresses {
		nodes[i] = types.Node{
			Address:        addr,
			PreferredOrder: i,
			Health:         types.UnknownHealth(addr),
		}
	}
	return &Registry{nodes: nodes}
}

// Len returns the number of configured nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Current returns the preferred node. It panics on an empty registry, which
// config validation rules out.
func (r *Registry) Current() types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[r.preferred]
}

// Preferred returns the preferred index together with its node, read under
// one lock.
func (r *Registry) Preferred() (int, types.Node) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferred, r.nodes[r.preferred]
}

// At returns the node at index i in configured order.
func (r *Registry) At(i int) types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[i]
}

// Index returns the preferred index.
func (r *Registry) Index() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferred
}

// Advance moves the preferred index to the next node, wrapping around.
func (r *Registry) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) == 0 {
		return
	}
	r.preferred = (r.preferred + 1) % len(r.nodes)
}

// AdvanceFrom advances only if the preferred index is still from. It reports
// whether it moved. Concurrent callers that observed the same failing node
// therefore advance once instead of skipping past a healthy node.
func (r *Registry) AdvanceFrom(from int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) == 0 || r.preferred != from {
		return false
	}
	r.preferred = (r.preferred + 1) % len(r.nodes)
	return true
}

// All returns a copy of the nodes in configured order.
func (r *Registry) All() []types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Addresses returns the base URIs in configured order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.Address
	}
	return out
}

// SetHealth replaces the recorded health of every node. Entries are matched
// by address; unknown addresses are ignored.
func (r *Registry) SetHealth(results []types.NodeHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range results {
		for i := range r.nodes {
			if r.nodes[i].Address == h.Address {
				r.nodes[i].Health = h
			}
		}
	}
}
