package resources

import (
	"context"
	"fmt"
	"sync"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// StaticClusterAdapter is the reference ClusterAdapter: a fixed allocatable
// capacity per node with a mutable "used" figure, grounded on
// pkg/provider_daemon/resource_sync.go's StaticResourceSnapshotProvider from
// the teacher repo (a configured capacity snapshot rather than a live
// cluster query). Suitable for single-process tests and local runs; a real
// k8s metrics adapter is out of scope per spec.md §1.
type StaticClusterAdapter struct {
	mu           sync.Mutex
	allocatable  map[fogtypes.NodeId]capacity
	used         map[fogtypes.NodeId]capacity
}

type capacity struct {
	cpuMillicpu int64
	ramBytes    int64
}

// NewStaticClusterAdapter builds an adapter with no registered nodes.
func NewStaticClusterAdapter() *StaticClusterAdapter {
	return &StaticClusterAdapter{
		allocatable: make(map[fogtypes.NodeId]capacity),
		used:        make(map[fogtypes.NodeId]capacity),
	}
}

// SetCapacity registers (or updates) a node's total allocatable capacity.
func (a *StaticClusterAdapter) SetCapacity(node fogtypes.NodeId, cpuMillicpu, ramBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocatable[node] = capacity{cpuMillicpu: cpuMillicpu, ramBytes: ramBytes}
	if _, ok := a.used[node]; !ok {
		a.used[node] = capacity{}
	}
}

// AddUsed adds delta (possibly negative) to a node's used capacity, as
// later reported by Used(). It only mutates the adapter's own bookkeeping;
// Auction Repository reservations are not reflected here.
func (a *StaticClusterAdapter) AddUsed(node fogtypes.NodeId, cpuMillicpu, ramBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.used[node]
	u.cpuMillicpu += cpuMillicpu
	u.ramBytes += ramBytes
	a.used[node] = u
}

func (a *StaticClusterAdapter) Allocatable(_ context.Context, node fogtypes.NodeId) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.allocatable[node]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown node %s", fogtypes.ErrAdapterUnavailable, node)
	}
	return fmt.Sprintf("%dm", c.cpuMillicpu), fmt.Sprintf("%d", c.ramBytes), nil
}

func (a *StaticClusterAdapter) Used(_ context.Context, node fogtypes.NodeId) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.used[node]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown node %s", fogtypes.ErrAdapterUnavailable, node)
	}
	return fmt.Sprintf("%dm", c.cpuMillicpu), fmt.Sprintf("%d", c.ramBytes), nil
}

func (a *StaticClusterAdapter) Nodes(_ context.Context) ([]fogtypes.NodeId, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]fogtypes.NodeId, 0, len(a.allocatable))
	for id := range a.allocatable {
		out = append(out, id)
	}
	return out, nil
}
