// Package latency is the seam to neighbor latency probing, out of scope
// per spec.md §1 beyond this interface. Grounded on the
// StaticResourceSnapshotProvider pattern in
// pkg/provider_daemon/resource_sync.go from the teacher repo: a
// configured static snapshot standing in for a live measurement.
package latency

import (
	"context"
	"sync"
	"time"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Probe measures the one-hop latency to a neighbor.
type Probe interface {
	Measure(ctx context.Context, neighbor fogtypes.NodeId) (time.Duration, error)
}

// StaticProbe returns a fixed, configured latency per neighbor, falling
// back to a default for unconfigured neighbors.
type StaticProbe struct {
	mu      sync.RWMutex
	latency map[fogtypes.NodeId]time.Duration
	fallback time.Duration
}

// NewStaticProbe builds a StaticProbe; fallback is used for neighbors with
// no configured entry.
func NewStaticProbe(fallback time.Duration) *StaticProbe {
	return &StaticProbe{latency: make(map[fogtypes.NodeId]time.Duration), fallback: fallback}
}

// Set configures the latency to report for a neighbor.
func (p *StaticProbe) Set(neighbor fogtypes.NodeId, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency[neighbor] = d
}

func (p *StaticProbe) Measure(_ context.Context, neighbor fogtypes.NodeId) (time.Duration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if d, ok := p.latency[neighbor]; ok {
		return d, nil
	}
	return p.fallback, nil
}
