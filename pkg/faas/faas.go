// Package faas is the seam to the FaaS Backend: function deploy/remove,
// out of scope per spec.md §1 beyond this interface. Grounded on
// provider/cluster/client.go's Client interface from the teacher repo,
// which plays the same "deploy/remove a workload, return a stable handle"
// role against a Kubernetes cluster.
package faas

import (
	"context"
	"fmt"
	"sync"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Backend deploys and removes functions for accepted bids. Deploy must be
// idempotent for a repeated call with the same BidId: it returns the
// existing function name rather than redeploying.
type Backend interface {
	Deploy(ctx context.Context, id fogtypes.BidId, sla fogtypes.Sla) (functionName string, err error)
	Remove(ctx context.Context, id fogtypes.BidId) error
	// Invoke hands an opaque routed payload to the locally deployed
	// function and returns its response bytes verbatim (spec.md §4.5).
	Invoke(ctx context.Context, id fogtypes.BidId, payload []byte) ([]byte, error)
}

// Config mirrors the OPENFAAS_* environment variables spec.md §6 names.
// NullBackend stores these but never reads or dials them; a real OpenFaaS
// client would use them to construct its gateway URL and basic-auth
// credentials.
type Config struct {
	IP       string
	Port     string
	Username string
	Password string
}

// NullBackend is the reference Backend: an in-memory function registry
// with no real container lifecycle, grounded on provider/cluster/client.go's
// nullClient from the teacher repo (same role: satisfy the interface for
// tests and local runs without a real cluster behind it).
type NullBackend struct {
	cfg Config

	mu        sync.Mutex
	functions map[fogtypes.BidId]string
}

// NewNullBackend builds a NullBackend. cfg is stored but not used; no
// network connection is attempted.
func NewNullBackend(cfg Config) *NullBackend {
	return &NullBackend{cfg: cfg, functions: make(map[fogtypes.BidId]string)}
}

func (b *NullBackend) Deploy(_ context.Context, id fogtypes.BidId, _ fogtypes.Sla) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name, ok := b.functions[id]; ok {
		return name, nil
	}
	name := fmt.Sprintf("fn-%s", id.String())
	b.functions[id] = name
	return name, nil
}

func (b *NullBackend) Remove(_ context.Context, id fogtypes.BidId) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.functions, id)
	return nil
}

// Invoke is the NullBackend's stand-in for handling a routed invocation
// payload locally: it echoes the payload back, prefixed with the function
// name, so integration tests can assert that the bytes really traversed
// the routing fabric to this exact node. A real backend would proxy the
// bytes to the deployed container's network namespace instead.
func (b *NullBackend) Invoke(_ context.Context, id fogtypes.BidId, payload []byte) ([]byte, error) {
	b.mu.Lock()
	name, ok := b.functions[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: bid %s has no deployed function", fogtypes.ErrUnknownOrStaleBid, id)
	}
	out := make([]byte, 0, len(name)+1+len(payload))
	out = append(out, name...)
	out = append(out, ':')
	out = append(out, payload...)
	return out, nil
}
