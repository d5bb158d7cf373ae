// Package routing implements the Routing Table and Router: installation of
// the per-function forwarding fabric and hop-by-hop invocation forwarding.
// Grounded in shape on pkg/provider_daemon/routing_enforcer.go's
// RoutingEnforcer from the teacher repo, which maintains a similar
// map-under-mutex of routing state and calls out to peers over HTTP.
package routing

import (
	"context"
	"sync"

	"github.com/fogauction/control-plane/pkg/faas"
	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Table maps BidId to ForwardingDecision. Table invariant (spec.md §3): at
// most one entry per BidId, installed only by a successful route
// registration or lazily by a miss on forward().
type Table struct {
	mu      sync.RWMutex
	entries map[fogtypes.BidId]fogtypes.ForwardingDecision
}

// NewTable builds an empty Routing Table.
func NewTable() *Table {
	return &Table{entries: make(map[fogtypes.BidId]fogtypes.ForwardingDecision)}
}

func (t *Table) get(id fogtypes.BidId) (fogtypes.ForwardingDecision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.entries[id]
	return d, ok
}

func (t *Table) set(id fogtypes.BidId, d fogtypes.ForwardingDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = d
}

// Len reports the number of installed routing entries, for the
// fog_routing_table_size gauge.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// PeerDialer abstracts the outbound HTTP calls a Router makes to
// neighbors, so tests can substitute an in-process transport. Grounded on
// sdk/go/node/client/rpc.go's client-interface pattern in the teacher
// repo.
type PeerDialer interface {
	PutRouting(ctx context.Context, neighbor fogtypes.Node, stack fogtypes.FunctionRoutingStack) error
	PostRouting(ctx context.Context, neighbor fogtypes.Node, bidId fogtypes.BidId, payload []byte) ([]byte, error)
}

// Router installs routing entries and forwards invocation packets,
// per spec.md §4.5.
type Router struct {
	table    *Table
	self     fogtypes.NodeId
	neighbor func(fogtypes.NodeId) (fogtypes.Node, bool)
	toMarket func() (fogtypes.Node, bool)
	backend  faas.Backend
	dialer   PeerDialer
}

// NewRouter builds a Router.
//
//   - neighbor resolves a NodeId in the stack to a dialable Node.
//   - toMarket returns this node's upstream market link, if any.
func NewRouter(
	self fogtypes.NodeId,
	neighbor func(fogtypes.NodeId) (fogtypes.Node, bool),
	toMarket func() (fogtypes.Node, bool),
	backend faas.Backend,
	dialer PeerDialer,
) *Router {
	return &Router{
		table:    NewTable(),
		self:     self,
		neighbor: neighbor,
		toMarket: toMarket,
		backend:  backend,
		dialer:   dialer,
	}
}

// Table exposes the underlying Routing Table, e.g. for the metrics gauge.
func (r *Router) Table() *Table { return r.table }

// RegisterFunctionRoute implements spec.md §4.5's register_function_route:
// it locates this node in stack, installs the appropriate entry, and —
// unless this node is the winner — forwards the unchanged stack to the
// next hop.
func (r *Router) RegisterFunctionRoute(ctx context.Context, stack fogtypes.FunctionRoutingStack) error {
	pos := -1
	for i, n := range stack.Stack {
		if n == r.self {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fogtypes.ErrMalformedStack
	}

	if pos == len(stack.Stack)-1 {
		r.table.set(stack.BidId, fogtypes.ForwardingDecision{Kind: fogtypes.Inside})
		return nil
	}

	next := stack.Stack[pos+1]
	r.table.set(stack.BidId, fogtypes.ForwardingDecision{Kind: fogtypes.Outside, NextHop: next})

	neighbor, ok := r.neighbor(next)
	if !ok {
		return fogtypes.ErrUnknownNeighbor
	}
	return r.dialer.PutRouting(ctx, neighbor, stack)
}

// Forward implements spec.md §4.5's forward: look up bid_id and route the
// opaque payload Inside, Outside, or ToMarket. A miss lazily installs
// ToMarket and recurses, repairing routing at non-winner nodes that
// observe invocation traffic for a BidId they never saw register for.
func (r *Router) Forward(ctx context.Context, bidId fogtypes.BidId, payload []byte) ([]byte, error) {
	decision, ok := r.table.get(bidId)
	if !ok {
		r.table.set(bidId, fogtypes.ForwardingDecision{Kind: fogtypes.ToMarket})
		return r.Forward(ctx, bidId, payload)
	}

	switch decision.Kind {
	case fogtypes.Inside:
		return r.backend.Invoke(ctx, bidId, payload)
	case fogtypes.Outside:
		neighbor, ok := r.neighbor(decision.NextHop)
		if !ok {
			return nil, fogtypes.ErrUnknownNeighbor
		}
		return r.dialer.PostRouting(ctx, neighbor, bidId, payload)
	case fogtypes.ToMarket:
		up, ok := r.toMarket()
		if !ok {
			return nil, fogtypes.ErrNoMarketLink
		}
		return r.dialer.PostRouting(ctx, up, bidId, payload)
	default:
		return nil, fogtypes.ErrMalformedStack
	}
}
