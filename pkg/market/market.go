// Package market implements the market-side client handler: second-price
// (Vickrey) selection over the proposals Function Life returns, winner
// acceptance, and routing-stack installation. Grounded in shape on
// pkg/provider_daemon/order_router.go's selection-and-commit flow from the
// teacher repo, adapted from on-chain order matching to in-memory bid
// comparison.
package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/functionlife"
	"github.com/fogauction/control-plane/pkg/routing"
)

// AcceptDialer issues the winner-acceptance call, separate from
// routing.PeerDialer because it addresses the winner directly by the URI
// piggybacked in its BidProposal rather than by routing-table neighbor.
type AcceptDialer interface {
	PostAccept(ctx context.Context, winnerUri string, bidId fogtypes.BidId) error
}

// Service runs second-price selection for the market node.
type Service struct {
	self     fogtypes.NodeId
	children func() []fogtypes.Node
	bidder   functionlife.PeerBidder
	accept   AcceptDialer
	routes   routing.PeerDialer
	log      zerolog.Logger
}

// NewService builds a market Service.
func NewService(
	self fogtypes.NodeId,
	children func() []fogtypes.Node,
	bidder functionlife.PeerBidder,
	accept AcceptDialer,
	routes routing.PeerDialer,
	log zerolog.Logger,
) *Service {
	return &Service{self: self, children: children, bidder: bidder, accept: accept, routes: routes, log: log}
}

// PutFunction implements spec.md §4.6's PUT /api/function: dial the named
// leaf, collect proposals, run second-price selection, accept the winner,
// and install the routing stack.
func (s *Service) PutFunction(ctx context.Context, req fogtypes.PutSla) (fogtypes.MarketBidProposal, error) {
	leaf, ok := s.resolveChild(req.LeafNode)
	if !ok {
		return fogtypes.MarketBidProposal{}, fmt.Errorf("%w: unknown leaf node %s", fogtypes.ErrUnknownNeighbor, req.LeafNode)
	}

	resp, err := s.bidder.PostBid(ctx, leaf, fogtypes.BidRequest{Sla: req.Sla, AccumulatedLatencyMs: 0})
	if err != nil {
		s.log.Warn().Err(err).Str("leaf_node", req.LeafNode.String()).Msg("leaf bid fan-out failed")
		return fogtypes.MarketBidProposal{Bids: nil}, nil
	}
	if len(resp.Bids) == 0 {
		return fogtypes.MarketBidProposal{Bids: nil}, nil
	}

	bids := append([]fogtypes.BidProposal(nil), resp.Bids...)
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].Price.Equal(bids[j].Price) {
			return bids[i].Price.LT(bids[j].Price)
		}
		return bids[i].NodeId.String() < bids[j].NodeId.String()
	})

	winner := bids[0]
	paid := winner.Price
	if len(bids) > 1 {
		paid = bids[1].Price
	}

	if err := s.accept.PostAccept(ctx, winner.Uri, winner.BidId); err != nil {
		s.log.Warn().Err(err).Str("bid_id", winner.BidId.String()).Msg("winner rejected acceptance")
		return fogtypes.MarketBidProposal{}, nil
	}

	stack := fogtypes.FunctionRoutingStack{
		BidId: winner.BidId,
		Stack: append([]fogtypes.NodeId{s.self}, winner.Path...),
	}
	if err := s.routes.PutRouting(ctx, leaf, stack); err != nil {
		s.log.Warn().Err(err).Str("bid_id", winner.BidId.String()).Msg("routing install failed")
		return fogtypes.MarketBidProposal{}, nil
	}

	return fogtypes.MarketBidProposal{Bids: bids, ChosenBid: &winner, Price: &paid}, nil
}

func (s *Service) resolveChild(id fogtypes.NodeId) (fogtypes.Node, bool) {
	for _, n := range s.children() {
		if n.Id == id {
			return n, true
		}
	}
	return fogtypes.Node{}, false
}
