// Package resources implements the Resource Tracker: it exposes per-node
// allocatable vs. used CPU and memory, sourced from a ClusterAdapter that
// the cluster-resource integration (out of scope, see spec.md §1) would
// normally back with live node metrics.
package resources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Quantity is a fixed-point resource amount: bytes for memory/storage,
// millicpu for CPU.
type Quantity = int64

// Available is the (cpu, memory) slack reported for one node.
type Available struct {
	CpuMillicpu Quantity
	RamBytes    Quantity
}

// ClusterAdapter is the seam to the out-of-scope cluster-resource
// integration: allocatable and used resources per node, as raw strings in
// the cluster's own `<integer><unit>` notation (e.g. "4Gi", "2000m").
type ClusterAdapter interface {
	Allocatable(ctx context.Context, node fogtypes.NodeId) (cpu, mem string, err error)
	Used(ctx context.Context, node fogtypes.NodeId) (cpu, mem string, err error)
	Nodes(ctx context.Context) ([]fogtypes.NodeId, error)
}

// ParseCPU parses a millicpu quantity of the form "500m" or "2" (whole
// cores). Returns fogtypes.ErrQuantityParse on malformed input.
func ParseCPU(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty cpu quantity", fogtypes.ErrQuantityParse)
	}
	if strings.HasSuffix(s, "m") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", fogtypes.ErrQuantityParse, s, err)
		}
		return n, nil
	}
	cores, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", fogtypes.ErrQuantityParse, s, err)
	}
	return int64(cores * 1000), nil
}

var byteUnits = map[string]int64{
	"":   1,
	"K":  1000,
	"M":  1000 * 1000,
	"G":  1000 * 1000 * 1000,
	"T":  1000 * 1000 * 1000 * 1000,
	"Ki": 1024,
	"Mi": 1024 * 1024,
	"Gi": 1024 * 1024 * 1024,
	"Ti": 1024 * 1024 * 1024 * 1024,
}

// ParseBytes parses a memory/storage quantity of the form "<integer><unit>"
// where unit is one of Ki,Mi,Gi,Ti,K,M,G,T or empty (raw bytes).
func ParseBytes(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty byte quantity", fogtypes.ErrQuantityParse)
	}
	i := len(s)
	for i > 0 && (s[i-1] < '0' || s[i-1] > '9') {
		i--
	}
	numPart, unitPart := s[:i], s[i:]
	mult, ok := byteUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q in %q", fogtypes.ErrQuantityParse, unitPart, s)
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", fogtypes.ErrQuantityParse, s, err)
	}
	return n * mult, nil
}

// Tracker exposes Available(node) computed as allocatable - used, refreshed
// on every call. A short-TTL cache is intentionally not added here: the
// ClusterAdapter is expected to cache where that matters (spec.md §4.1).
type Tracker struct {
	adapter ClusterAdapter
}

// NewTracker builds a Tracker over the given ClusterAdapter.
func NewTracker(adapter ClusterAdapter) *Tracker {
	return &Tracker{adapter: adapter}
}

// Available returns (cpu_available, memory_available) for one node.
func (t *Tracker) Available(ctx context.Context, node fogtypes.NodeId) (Available, error) {
	allocCPU, allocMem, err := t.adapter.Allocatable(ctx, node)
	if err != nil {
		return Available{}, fmt.Errorf("%w: %v", fogtypes.ErrAdapterUnavailable, err)
	}
	usedCPU, usedMem, err := t.adapter.Used(ctx, node)
	if err != nil {
		return Available{}, fmt.Errorf("%w: %v", fogtypes.ErrAdapterUnavailable, err)
	}

	allocCPUq, err := ParseCPU(allocCPU)
	if err != nil {
		return Available{}, err
	}
	usedCPUq, err := ParseCPU(usedCPU)
	if err != nil {
		return Available{}, err
	}
	allocMemq, err := ParseBytes(allocMem)
	if err != nil {
		return Available{}, err
	}
	usedMemq, err := ParseBytes(usedMem)
	if err != nil {
		return Available{}, err
	}

	return Available{
		CpuMillicpu: allocCPUq - usedCPUq,
		RamBytes:    allocMemq - usedMemq,
	}, nil
}

// AllNodes returns the set of nodes tracked by the underlying adapter.
func (t *Tracker) AllNodes(ctx context.Context) ([]fogtypes.NodeId, error) {
	return t.adapter.Nodes(ctx)
}

// Allocatable returns the total allocatable (cpu, memory) for one node,
// independent of current usage. Used by pricing to compute utilization.
func (t *Tracker) Allocatable(ctx context.Context, node fogtypes.NodeId) (Available, error) {
	allocCPU, allocMem, err := t.adapter.Allocatable(ctx, node)
	if err != nil {
		return Available{}, fmt.Errorf("%w: %v", fogtypes.ErrAdapterUnavailable, err)
	}
	cpuq, err := ParseCPU(allocCPU)
	if err != nil {
		return Available{}, err
	}
	memq, err := ParseBytes(allocMem)
	if err != nil {
		return Available{}, err
	}
	return Available{CpuMillicpu: cpuq, RamBytes: memq}, nil
}
