package market

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// fakeBidder returns a fixed set of proposals regardless of which child is
// dialed, so selection arithmetic can be tested in isolation from fan-out.
type fakeBidder struct {
	proposals []fogtypes.BidProposal
	err       error
}

func (b *fakeBidder) PostBid(context.Context, fogtypes.Node, fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	if b.err != nil {
		return fogtypes.BidProposals{}, b.err
	}
	return fogtypes.BidProposals{Bids: b.proposals}, nil
}

type fakeAccept struct {
	acceptedUri string
	acceptedBid fogtypes.BidId
	err         error
}

func (a *fakeAccept) PostAccept(_ context.Context, winnerUri string, bidId fogtypes.BidId) error {
	a.acceptedUri, a.acceptedBid = winnerUri, bidId
	return a.err
}

type fakeRoutes struct {
	installed fogtypes.FunctionRoutingStack
	err       error
}

func (r *fakeRoutes) PutRouting(_ context.Context, _ fogtypes.Node, stack fogtypes.FunctionRoutingStack) error {
	r.installed = stack
	return r.err
}
func (r *fakeRoutes) PostRouting(context.Context, fogtypes.Node, fogtypes.BidId, []byte) ([]byte, error) {
	return nil, nil
}

func dec(s string) fogtypes.Money {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPutFunctionSecondPriceSelection(t *testing.T) {
	leaf := fogtypes.NewNodeId()
	winnerNode := fogtypes.NewNodeId()
	runnerUpNode := fogtypes.NewNodeId()
	winnerBid := fogtypes.NewBidId()

	bidder := &fakeBidder{proposals: []fogtypes.BidProposal{
		{BidId: winnerBid, NodeId: winnerNode, Uri: "http://winner", Price: dec("0.50"), Path: []fogtypes.NodeId{winnerNode}},
		{BidId: fogtypes.NewBidId(), NodeId: runnerUpNode, Uri: "http://runner-up", Price: dec("0.80"), Path: []fogtypes.NodeId{runnerUpNode}},
	}}
	accept := &fakeAccept{}
	routes := &fakeRoutes{}

	self := fogtypes.NewNodeId()
	svc := NewService(self, func() []fogtypes.Node { return []fogtypes.Node{{Id: leaf, Category: fogtypes.Child}} }, bidder, accept, routes, zerolog.Nop())

	resp, err := svc.PutFunction(context.Background(), fogtypes.PutSla{Sla: fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20}, LeafNode: leaf})
	require.NoError(t, err)
	require.NotNil(t, resp.ChosenBid)
	assert.Equal(t, winnerBid, resp.ChosenBid.BidId)
	require.NotNil(t, resp.Price)
	assert.True(t, resp.Price.Equal(dec("0.80")), "winner is charged the second-lowest (runner-up) price, not its own bid")
	assert.Equal(t, "http://winner", accept.acceptedUri)
	assert.Equal(t, []fogtypes.NodeId{self, winnerNode}, routes.installed.Stack)
}

func TestPutFunctionSingleBidPaysOwnPrice(t *testing.T) {
	leaf := fogtypes.NewNodeId()
	onlyNode := fogtypes.NewNodeId()
	onlyBid := fogtypes.NewBidId()

	bidder := &fakeBidder{proposals: []fogtypes.BidProposal{
		{BidId: onlyBid, NodeId: onlyNode, Uri: "http://only", Price: dec("0.30"), Path: []fogtypes.NodeId{onlyNode}},
	}}
	accept := &fakeAccept{}
	routes := &fakeRoutes{}
	self := fogtypes.NewNodeId()
	svc := NewService(self, func() []fogtypes.Node { return []fogtypes.Node{{Id: leaf, Category: fogtypes.Child}} }, bidder, accept, routes, zerolog.Nop())

	resp, err := svc.PutFunction(context.Background(), fogtypes.PutSla{Sla: fogtypes.Sla{CpuMillicpu: 100, RamBytes: 1 << 20}, LeafNode: leaf})
	require.NoError(t, err)
	require.NotNil(t, resp.Price)
	assert.True(t, resp.Price.Equal(dec("0.30")))
}

func TestPutFunctionUnknownLeaf(t *testing.T) {
	svc := NewService(fogtypes.NewNodeId(), func() []fogtypes.Node { return nil }, &fakeBidder{}, &fakeAccept{}, &fakeRoutes{}, zerolog.Nop())
	_, err := svc.PutFunction(context.Background(), fogtypes.PutSla{LeafNode: fogtypes.NewNodeId()})
	assert.ErrorIs(t, err, fogtypes.ErrUnknownNeighbor)
}

func TestPutFunctionAcceptRejectionReturnsEmpty(t *testing.T) {
	leaf := fogtypes.NewNodeId()
	winnerNode := fogtypes.NewNodeId()
	winnerBid := fogtypes.NewBidId()

	bidder := &fakeBidder{proposals: []fogtypes.BidProposal{
		{BidId: winnerBid, NodeId: winnerNode, Uri: "http://winner", Price: dec("0.50"), Path: []fogtypes.NodeId{winnerNode}},
	}}
	accept := &fakeAccept{err: assert.AnError}
	routes := &fakeRoutes{}
	self := fogtypes.NewNodeId()
	svc := NewService(self, func() []fogtypes.Node { return []fogtypes.Node{{Id: leaf, Category: fogtypes.Child}} }, bidder, accept, routes, zerolog.Nop())

	resp, err := svc.PutFunction(context.Background(), fogtypes.PutSla{Sla: fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20}, LeafNode: leaf})
	require.NoError(t, err)
	assert.Equal(t, fogtypes.MarketBidProposal{}, resp, "a rejected winner must fall through to the empty response, not the full bid list")
}

func TestPutFunctionRoutingInstallFailureReturnsEmpty(t *testing.T) {
	leaf := fogtypes.NewNodeId()
	winnerNode := fogtypes.NewNodeId()
	winnerBid := fogtypes.NewBidId()

	bidder := &fakeBidder{proposals: []fogtypes.BidProposal{
		{BidId: winnerBid, NodeId: winnerNode, Uri: "http://winner", Price: dec("0.50"), Path: []fogtypes.NodeId{winnerNode}},
	}}
	accept := &fakeAccept{}
	routes := &fakeRoutes{err: assert.AnError}
	self := fogtypes.NewNodeId()
	svc := NewService(self, func() []fogtypes.Node { return []fogtypes.Node{{Id: leaf, Category: fogtypes.Child}} }, bidder, accept, routes, zerolog.Nop())

	resp, err := svc.PutFunction(context.Background(), fogtypes.PutSla{Sla: fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20}, LeafNode: leaf})
	require.NoError(t, err)
	assert.Equal(t, fogtypes.MarketBidProposal{}, resp, "a failed routing install must fall through to the empty response, not the full bid list")
}

func TestPutFunctionNoProposalsReturnsEmpty(t *testing.T) {
	leaf := fogtypes.NewNodeId()
	svc := NewService(fogtypes.NewNodeId(), func() []fogtypes.Node { return []fogtypes.Node{{Id: leaf, Category: fogtypes.Child}} }, &fakeBidder{proposals: nil}, &fakeAccept{}, &fakeRoutes{}, zerolog.Nop())
	resp, err := svc.PutFunction(context.Background(), fogtypes.PutSla{LeafNode: leaf})
	require.NoError(t, err)
	assert.Nil(t, resp.ChosenBid)
	assert.Empty(t, resp.Bids)
}
