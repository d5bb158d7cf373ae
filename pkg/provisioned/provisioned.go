// Package provisioned implements the Provisioned Repository: the set of
// functions this node has actually deployed to its local FaaS Backend,
// keyed by BidId. Grounded in shape on
// pkg/provider_daemon/routing_enforcer.go's map-under-mutex style from the
// teacher repo.
package provisioned

import (
	"sync"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Entry is one locally hosted function.
type Entry struct {
	BidId        fogtypes.BidId
	FunctionName string
	Sla          fogtypes.Sla
}

// Repository tracks locally provisioned functions.
type Repository struct {
	mu      sync.RWMutex
	entries map[fogtypes.BidId]Entry
}

// New builds an empty Provisioned Repository.
func New() *Repository {
	return &Repository{entries: make(map[fogtypes.BidId]Entry)}
}

// Put records a successful deploy.
func (r *Repository) Put(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.BidId] = e
}

// Get returns the entry for a BidId, if provisioned here.
func (r *Repository) Get(id fogtypes.BidId) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Delete removes a provisioned entry, e.g. after a remote remove() call.
func (r *Repository) Delete(id fogtypes.BidId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len reports how many functions are provisioned locally.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
