// Package functionlife implements Function Life: the recursive bid
// aggregation that fans a BidRequest out to child nodes, combines their
// proposals with this node's own local bid, and applies the SLA's
// latency filter. Grounded in shape on sdk/go/node/client/rpc.go's
// errgroup-based concurrent dispatch in the teacher repo, adapted from
// RPC broadcast to bid fan-out.
package functionlife

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fogauction/control-plane/pkg/auction"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/latency"
)

// PlacementPolicy selects between the two fan-out orderings spec.md §4.3
// describes.
type PlacementPolicy int

const (
	// TopDown attempts the local bid and fans out to children
	// unconditionally, aggregating both.
	TopDown PlacementPolicy = iota
	// BottomUp fans out to children first and only consults the local
	// bid when no child proposal is latency-feasible.
	BottomUp
)

// DefaultBidDeadline is the per-child fan-out timeout spec.md §4.3 names.
const DefaultBidDeadline = 1 * time.Second

// PeerBidder abstracts the outbound POST /bid call to a child, so tests
// can substitute an in-process transport.
type PeerBidder interface {
	PostBid(ctx context.Context, child fogtypes.Node, req fogtypes.BidRequest) (fogtypes.BidProposals, error)
}

// Config tunes one node's Function Life instance.
type Config struct {
	BidDeadline time.Duration
	Policy      PlacementPolicy
}

// DefaultConfig matches spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{BidDeadline: DefaultBidDeadline, Policy: TopDown}
}

// Service orchestrates bid fan-out for one node.
type Service struct {
	self      fogtypes.NodeId
	selfUri   string
	isMarket  bool
	children  func() []fogtypes.Node
	auctionSvc *auction.Service // nil at the market, which never hosts functions
	bidder    PeerBidder
	probe     latency.Probe
	cfg       Config
}

// NewService builds a Function Life instance. auctionSvc is nil for the
// market node, which skips local bidding per spec.md §4.3. selfUri is
// stamped onto this node's own proposals so an ancestor (ultimately the
// market) can dial the winner directly for acceptance, without a separate
// topology query.
func NewService(
	self fogtypes.NodeId,
	selfUri string,
	isMarket bool,
	children func() []fogtypes.Node,
	auctionSvc *auction.Service,
	bidder PeerBidder,
	probe latency.Probe,
	cfg Config,
) *Service {
	return &Service{
		self:       self,
		selfUri:    selfUri,
		isMarket:   isMarket,
		children:   children,
		auctionSvc: auctionSvc,
		bidder:     bidder,
		probe:      probe,
		cfg:        cfg,
	}
}

// Bid implements spec.md §4.3's local-attempt + child-fan-out + aggregate +
// latency-filter algorithm, honoring the configured PlacementPolicy.
func (s *Service) Bid(ctx context.Context, req fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	switch s.cfg.Policy {
	case BottomUp:
		return s.bidBottomUp(ctx, req)
	default:
		return s.bidTopDown(ctx, req)
	}
}

func (s *Service) bidTopDown(ctx context.Context, req fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	var all []fogtypes.BidProposal

	if local := s.localProposal(ctx, req); local != nil {
		all = append(all, *local)
	}

	children, err := s.fanOut(ctx, req)
	if err != nil {
		return fogtypes.BidProposals{}, err
	}
	all = append(all, children...)

	return fogtypes.BidProposals{Bids: filterLatency(all, req.Sla.LatencyMaxMs)}, nil
}

func (s *Service) bidBottomUp(ctx context.Context, req fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	children, err := s.fanOut(ctx, req)
	if err != nil {
		return fogtypes.BidProposals{}, err
	}
	filtered := filterLatency(children, req.Sla.LatencyMaxMs)
	if len(filtered) > 0 {
		return fogtypes.BidProposals{Bids: filtered}, nil
	}

	var all []fogtypes.BidProposal
	if local := s.localProposal(ctx, req); local != nil {
		all = append(all, *local)
	}
	return fogtypes.BidProposals{Bids: filterLatency(all, req.Sla.LatencyMaxMs)}, nil
}

// localProposal consults the Auction Service, if this node hosts one (the
// market never does).
func (s *Service) localProposal(ctx context.Context, req fogtypes.BidRequest) *fogtypes.BidProposal {
	if s.isMarket || s.auctionSvc == nil {
		return nil
	}
	rec, err := s.auctionSvc.BidOn(ctx, req.Sla)
	if err != nil || rec == nil {
		return nil
	}
	return &fogtypes.BidProposal{
		BidId:     rec.Id,
		NodeId:    s.self,
		Uri:       s.selfUri,
		Price:     rec.Price,
		Path:      []fogtypes.NodeId{s.self},
		LatencyMs: req.AccumulatedLatencyMs,
	}
}

// fanOut concurrently issues POST /bid to every child, dropping any whose
// response does not arrive within cfg.BidDeadline. Each returned proposal
// is annotated with the link latency to that child and this node prepended
// to its routing path.
func (s *Service) fanOut(ctx context.Context, req fogtypes.BidRequest) ([]fogtypes.BidProposal, error) {
	children := s.children()
	if len(children) == 0 {
		return nil, nil
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, s.cfg.BidDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(deadlineCtx)
	results := make([][]fogtypes.BidProposal, len(children))

	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			linkLatency, err := s.probe.Measure(gctx, child.Id)
			if err != nil {
				return nil // a failed probe drops this child's contribution, not the whole fan-out
			}
			childReq := fogtypes.BidRequest{
				Sla:                  req.Sla,
				AccumulatedLatencyMs: req.AccumulatedLatencyMs + linkLatency.Milliseconds(),
			}
			resp, err := s.bidder.PostBid(gctx, child, childReq)
			if err != nil {
				return nil // peer timeout/failure: drop this peer's contribution (spec.md §7)
			}
			out := make([]fogtypes.BidProposal, 0, len(resp.Bids))
			for _, p := range resp.Bids {
				path := make([]fogtypes.NodeId, 0, len(p.Path)+1)
				path = append(path, s.self)
				path = append(path, p.Path...)
				out = append(out, fogtypes.BidProposal{
					BidId:     p.BidId,
					NodeId:    p.NodeId,
					Uri:       p.Uri,
					Price:     p.Price,
					Path:      path,
					LatencyMs: p.LatencyMs,
				})
			}
			results[i] = out
			return nil
		})
	}
	// errgroup's own error is always nil here by construction (child
	// errors are swallowed above); the deadline context still cancels
	// any goroutine still probing/dialing when it expires.
	_ = g.Wait()

	var all []fogtypes.BidProposal
	for _, r := range results {
		all = append(all, r...)
	}
	// deterministic ordering regardless of completion order (spec.md §5).
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Price.Equal(all[j].Price) {
			return all[i].Price.LT(all[j].Price)
		}
		return all[i].NodeId.String() < all[j].NodeId.String()
	})
	return all, nil
}

func filterLatency(proposals []fogtypes.BidProposal, maxMs int64) []fogtypes.BidProposal {
	if maxMs <= 0 {
		return proposals
	}
	out := make([]fogtypes.BidProposal, 0, len(proposals))
	for _, p := range proposals {
		if p.LatencyMs <= maxMs {
			out = append(out, p)
		}
	}
	return out
}
