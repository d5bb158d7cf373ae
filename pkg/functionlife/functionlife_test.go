package functionlife

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogauction/control-plane/pkg/auction"
	"github.com/fogauction/control-plane/pkg/faas"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/latency"
	"github.com/fogauction/control-plane/pkg/provisioned"
	"github.com/fogauction/control-plane/pkg/resources"
	"github.com/rs/zerolog"
)

// fakeBidder dials a fixed in-process map of child Services, so fan-out
// tests never touch the network.
type fakeBidder struct {
	children map[fogtypes.NodeId]*Service
}

func (b *fakeBidder) PostBid(ctx context.Context, child fogtypes.Node, req fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	svc, ok := b.children[child.Id]
	if !ok {
		return fogtypes.BidProposals{}, fogtypes.ErrPeerFailure
	}
	return svc.Bid(ctx, req)
}

func newLeaf(t *testing.T, cpu, ram int64) (fogtypes.NodeId, *Service) {
	t.Helper()
	node := fogtypes.NewNodeId()
	adapter := resources.NewStaticClusterAdapter()
	adapter.SetCapacity(node, cpu, ram)
	tracker := resources.NewTracker(adapter)
	backend := faas.NewNullBackend(faas.Config{})
	provis := provisioned.New()
	repo := auction.NewRepository()
	pricing := auction.PricingConfig{Base: sdkmath.LegacyNewDecWithPrec(1, 1), Alpha: sdkmath.LegacyNewDec(1)}
	auctionSvc := auction.NewService(node, repo, tracker, provis, backend, pricing, zerolog.Nop())

	svc := NewService(node, "http://"+node.String(), false, func() []fogtypes.Node { return nil }, auctionSvc, nil, latency.NewStaticProbe(0), DefaultConfig())
	return node, svc
}

func TestBidTopDownAggregatesLocalAndChildren(t *testing.T) {
	leafA, leafSvcA := newLeaf(t, 4000, 4<<30)
	leafB, leafSvcB := newLeaf(t, 4000, 4<<30)

	bidder := &fakeBidder{children: map[fogtypes.NodeId]*Service{leafA: leafSvcA, leafB: leafSvcB}}
	probe := latency.NewStaticProbe(5 * time.Millisecond)

	mid := fogtypes.NewNodeId()
	svc := NewService(
		mid, "http://"+mid.String(), false,
		func() []fogtypes.Node {
			return []fogtypes.Node{{Id: leafA, Category: fogtypes.Child}, {Id: leafB, Category: fogtypes.Child}}
		},
		nil, bidder, probe, DefaultConfig(),
	)

	sla := fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20}
	proposals, err := svc.Bid(context.Background(), fogtypes.BidRequest{Sla: sla})
	require.NoError(t, err)
	assert.Len(t, proposals.Bids, 2, "both children bid and mid itself has no auction service")
	// deterministic ordering: ascending price, then NodeId.
	assert.True(t, proposals.Bids[0].Price.LTE(proposals.Bids[1].Price))
}

func TestBidTopDownDropsChildExceedingLatencyFilter(t *testing.T) {
	leafA, leafSvcA := newLeaf(t, 4000, 4<<30)
	bidder := &fakeBidder{children: map[fogtypes.NodeId]*Service{leafA: leafSvcA}}
	probe := latency.NewStaticProbe(500 * time.Millisecond)

	mid := fogtypes.NewNodeId()
	svc := NewService(
		mid, "http://"+mid.String(), false,
		func() []fogtypes.Node { return []fogtypes.Node{{Id: leafA, Category: fogtypes.Child}} },
		nil, bidder, probe, DefaultConfig(),
	)

	sla := fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20, LatencyMaxMs: 100}
	proposals, err := svc.Bid(context.Background(), fogtypes.BidRequest{Sla: sla})
	require.NoError(t, err)
	assert.Empty(t, proposals.Bids, "link latency of 500ms exceeds the sla's 100ms ceiling")
}

func TestBidBottomUpFallsBackToLocalWhenNoChildFeasible(t *testing.T) {
	mid, midAuctionSvc := newLeaf(t, 4000, 4<<30)
	// no children configured at all: bottom-up must fall back to the local bid.
	svc := NewService(
		mid, "http://"+mid.String(), false,
		func() []fogtypes.Node { return nil },
		midAuctionSvc, &fakeBidder{children: map[fogtypes.NodeId]*Service{}}, latency.NewStaticProbe(0),
		Config{BidDeadline: DefaultBidDeadline, Policy: BottomUp},
	)

	sla := fogtypes.Sla{CpuMillicpu: 500, RamBytes: 1 << 20}
	proposals, err := svc.Bid(context.Background(), fogtypes.BidRequest{Sla: sla})
	require.NoError(t, err)
	require.Len(t, proposals.Bids, 1)
	assert.Equal(t, mid, proposals.Bids[0].NodeId)
}

func TestMarketNeverBidsLocally(t *testing.T) {
	market := fogtypes.NewNodeId()
	svc := NewService(market, "http://"+market.String(), true, func() []fogtypes.Node { return nil }, nil, &fakeBidder{children: map[fogtypes.NodeId]*Service{}}, latency.NewStaticProbe(0), DefaultConfig())

	proposals, err := svc.Bid(context.Background(), fogtypes.BidRequest{Sla: fogtypes.Sla{CpuMillicpu: 100, RamBytes: 1 << 20}})
	require.NoError(t, err)
	assert.Empty(t, proposals.Bids)
}
