package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// fakeDialer records install/forward calls against an in-process peer
// registry keyed by NodeId, so routing tests never touch the network.
type fakeDialer struct {
	peers map[fogtypes.NodeId]*Router

	putCalls  int
	postCalls int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{peers: make(map[fogtypes.NodeId]*Router)}
}

func (d *fakeDialer) PutRouting(ctx context.Context, neighbor fogtypes.Node, stack fogtypes.FunctionRoutingStack) error {
	d.putCalls++
	peer, ok := d.peers[neighbor.Id]
	if !ok {
		return fogtypes.ErrUnknownNeighbor
	}
	return peer.RegisterFunctionRoute(ctx, stack)
}

func (d *fakeDialer) PostRouting(ctx context.Context, neighbor fogtypes.Node, bidId fogtypes.BidId, payload []byte) ([]byte, error) {
	d.postCalls++
	peer, ok := d.peers[neighbor.Id]
	if !ok {
		return nil, fogtypes.ErrUnknownNeighbor
	}
	return peer.Forward(ctx, bidId, payload)
}

// fakeBackend is a minimal faas.Backend stub for routing tests.
type fakeBackend struct {
	invoked map[fogtypes.BidId][]byte
}

func newFakeBackend() *fakeBackend { return &fakeBackend{invoked: make(map[fogtypes.BidId][]byte)} }

func (b *fakeBackend) Deploy(context.Context, fogtypes.BidId, fogtypes.Sla) (string, error) {
	return "", nil
}
func (b *fakeBackend) Remove(context.Context, fogtypes.BidId) error { return nil }
func (b *fakeBackend) Invoke(_ context.Context, id fogtypes.BidId, payload []byte) ([]byte, error) {
	b.invoked[id] = payload
	return append([]byte("ok:"), payload...), nil
}

func buildChain(t *testing.T) (market, mid, leaf fogtypes.NodeId, dialer *fakeDialer, routers map[fogtypes.NodeId]*Router, backends map[fogtypes.NodeId]*fakeBackend) {
	t.Helper()
	market = fogtypes.NewNodeId()
	mid = fogtypes.NewNodeId()
	leaf = fogtypes.NewNodeId()

	dialer = newFakeDialer()
	routers = make(map[fogtypes.NodeId]*Router)
	backends = make(map[fogtypes.NodeId]*fakeBackend)

	neighborOf := func(nodes map[fogtypes.NodeId]fogtypes.Node) func(fogtypes.NodeId) (fogtypes.Node, bool) {
		return func(id fogtypes.NodeId) (fogtypes.Node, bool) {
			n, ok := nodes[id]
			return n, ok
		}
	}

	marketNeighbors := map[fogtypes.NodeId]fogtypes.Node{mid: {Id: mid, Category: fogtypes.Child}}
	midNeighbors := map[fogtypes.NodeId]fogtypes.Node{
		market: {Id: market, Category: fogtypes.Parent},
		leaf:   {Id: leaf, Category: fogtypes.Child},
	}
	leafNeighbors := map[fogtypes.NodeId]fogtypes.Node{mid: {Id: mid, Category: fogtypes.Parent}}

	backends[market] = newFakeBackend()
	backends[mid] = newFakeBackend()
	backends[leaf] = newFakeBackend()

	routers[market] = NewRouter(market, neighborOf(marketNeighbors), func() (fogtypes.Node, bool) { return fogtypes.Node{}, false }, backends[market], dialer)
	routers[mid] = NewRouter(mid, neighborOf(midNeighbors), func() (fogtypes.Node, bool) { return midNeighbors[market], true }, backends[mid], dialer)
	routers[leaf] = NewRouter(leaf, neighborOf(leafNeighbors), func() (fogtypes.Node, bool) { return leafNeighbors[mid], true }, backends[leaf], dialer)

	for id, r := range routers {
		dialer.peers[id] = r
	}
	return
}

func TestRegisterFunctionRouteInstallsHopByHop(t *testing.T) {
	market, mid, leaf, dialer, routers, _ := buildChain(t)
	bidId := fogtypes.NewBidId()
	stack := fogtypes.FunctionRoutingStack{BidId: bidId, Stack: []fogtypes.NodeId{market, mid, leaf}}

	err := routers[market].RegisterFunctionRoute(context.Background(), stack)
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.putCalls, "market forwards to mid, mid forwards to leaf")

	total := routers[market].Table().Len() + routers[mid].Table().Len() + routers[leaf].Table().Len()
	assert.Equal(t, 3, total, "each of the 3 nodes on the stack installs exactly one entry for this bid")
}

func TestRegisterFunctionRouteMalformedStack(t *testing.T) {
	market, _, _, _, routers, _ := buildChain(t)
	stranger := fogtypes.NewNodeId()
	stack := fogtypes.FunctionRoutingStack{BidId: fogtypes.NewBidId(), Stack: []fogtypes.NodeId{stranger}}

	err := routers[market].RegisterFunctionRoute(context.Background(), stack)
	assert.ErrorIs(t, err, fogtypes.ErrMalformedStack)
}

func TestForwardTraversesToLeafAndInvokesLocally(t *testing.T) {
	market, mid, leaf, _, routers, backends := buildChain(t)
	bidId := fogtypes.NewBidId()
	stack := fogtypes.FunctionRoutingStack{BidId: bidId, Stack: []fogtypes.NodeId{market, mid, leaf}}
	require.NoError(t, routers[market].RegisterFunctionRoute(context.Background(), stack))

	out, err := routers[market].Forward(context.Background(), bidId, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "ok:payload", string(out))
	assert.Equal(t, []byte("payload"), backends[leaf].invoked[bidId])
	assert.Nil(t, backends[mid].invoked[bidId])
}

// TestForwardMissLazilyInstallsToMarket covers the S5-style repair path:
// a node that never saw register_function_route for this BidId still
// routes invocation traffic upstream instead of dropping it.
func TestForwardMissLazilyInstallsToMarket(t *testing.T) {
	_, mid, _, _, routers, _ := buildChain(t)
	bidId := fogtypes.NewBidId()

	// mid has no route installed for bidId, so Forward installs ToMarket
	// and retries upstream; market in turn has no market link of its own,
	// so the chain bottoms out at ErrNoMarketLink rather than dropping the
	// packet silently.
	_, err := routers[mid].Forward(context.Background(), bidId, []byte("x"))
	assert.ErrorIs(t, err, fogtypes.ErrNoMarketLink)

	decision, ok := routers[mid].table.get(bidId)
	require.True(t, ok)
	assert.Equal(t, fogtypes.ToMarket, decision.Kind)
}
