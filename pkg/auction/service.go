package auction

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/fogauction/control-plane/pkg/faas"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/obs"
	"github.com/fogauction/control-plane/pkg/provisioned"
	"github.com/fogauction/control-plane/pkg/resources"
)

// PricingConfig is the base/alpha pair from spec.md §4.2's pricing formula:
// price = base + alpha*utilization_after. Configuration, never hard-coded.
type PricingConfig struct {
	Base  fogtypes.Money
	Alpha fogtypes.Money
}

// DefaultPricingConfig mirrors the teacher's calculateBidPrice defaults in
// pkg/provider_daemon/bid_engine.go: a small fixed base plus a utilization
// multiplier.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Base:  sdkmath.LegacyNewDecWithPrec(1, 1), // 0.1
		Alpha: sdkmath.LegacyNewDec(1),             // 1.0
	}
}

// DefaultBidTTL is the janitor sweep threshold spec.md §4.2 names.
const DefaultBidTTL = 30 * time.Second

// Service is the Auction Service: local bidding logic layered over the
// Auction Repository, Resource Tracker, and FaaS Backend. Grounded in
// shape on pkg/provider_daemon/bid_engine.go's BidEngine, which similarly
// wraps a repository (order book) and a rate limiter around a
// check-then-commit decision.
type Service struct {
	node      fogtypes.NodeId
	repo      *Repository
	tracker   *resources.Tracker
	provis    *provisioned.Repository
	backend   faas.Backend
	pricing   PricingConfig
	log       zerolog.Logger
}

// NewService builds an Auction Service for one node's local resources.
func NewService(
	node fogtypes.NodeId,
	repo *Repository,
	tracker *resources.Tracker,
	provis *provisioned.Repository,
	backend faas.Backend,
	pricing PricingConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		node:    node,
		repo:    repo,
		tracker: tracker,
		provis:  provis,
		backend: backend,
		pricing: pricing,
		log:     log,
	}
}

// demand converts an Sla's resource requirements into a ResourceReservation.
func demand(sla fogtypes.Sla) fogtypes.ResourceReservation {
	return fogtypes.ResourceReservation{CpuMillicpu: sla.CpuMillicpu, RamBytes: sla.RamBytes}
}

// BidOn implements spec.md §4.2's bid_on: it evaluates every node known to
// the Resource Tracker, picks the one with the lowest utilization_after
// among those with non-negative slack, prices it, and reserves the
// resources atomically. Returns (nil, nil) when no node can afford the
// SLA — "no bid" is not an error.
func (s *Service) BidOn(ctx context.Context, sla fogtypes.Sla) (*fogtypes.BidRecord, error) {
	nodes, err := s.tracker.AllNodes(ctx)
	if err != nil {
		obs.RecordBidOutcome("adapter_error")
		return nil, err
	}

	d := demand(sla)

	type candidate struct {
		node          fogtypes.NodeId
		allocatable   resources.Available
		utilization   sdkmath.LegacyDec
	}
	var best *candidate
	available := make(map[fogtypes.NodeId]fogtypes.ResourceReservation, len(nodes))

	for _, n := range nodes {
		avail, err := s.tracker.Available(ctx, n)
		if err != nil {
			continue
		}
		alloc, err := s.tracker.Allocatable(ctx, n)
		if err != nil {
			continue
		}
		// logical reservations already held against this node reduce
		// availability further, matching the Resource Tracker's "used"
		// plus the Auction Repository's pending bookkeeping (spec.md §8:
		// "reservation is reflected in Resource Tracker's used").
		reserved := s.repo.Reserved(n)
		available[n] = fogtypes.ResourceReservation{CpuMillicpu: avail.CpuMillicpu, RamBytes: avail.RamBytes}

		slackCPU := avail.CpuMillicpu - reserved.CpuMillicpu - d.CpuMillicpu
		slackRAM := avail.RamBytes - reserved.RamBytes - d.RamBytes
		if slackCPU < 0 || slackRAM < 0 {
			continue
		}
		if alloc.CpuMillicpu == 0 || alloc.RamBytes == 0 {
			continue
		}

		usedAfterCPU := alloc.CpuMillicpu - avail.CpuMillicpu + reserved.CpuMillicpu + d.CpuMillicpu
		usedAfterRAM := alloc.RamBytes - avail.RamBytes + reserved.RamBytes + d.RamBytes
		utilCPU := sdkmath.LegacyNewDec(usedAfterCPU).QuoInt64(alloc.CpuMillicpu)
		utilRAM := sdkmath.LegacyNewDec(usedAfterRAM).QuoInt64(alloc.RamBytes)
		util := utilCPU
		if utilRAM.GT(util) {
			util = utilRAM
		}

		if best == nil || util.LT(best.utilization) || (util.Equal(best.utilization) && n.String() < best.node.String()) {
			best = &candidate{node: n, allocatable: alloc, utilization: util}
		}
	}

	if best == nil {
		obs.RecordBidOutcome("no_bid")
		return nil, nil
	}

	price := s.pricing.Base.Add(s.pricing.Alpha.Mul(best.utilization))

	rec, ok := s.repo.TryReserveAndInsert(
		[]fogtypes.NodeId{best.node},
		available,
		d,
		func(node fogtypes.NodeId) *fogtypes.BidRecord {
			return &fogtypes.BidRecord{
				Id:          fogtypes.NewBidId(),
				Sla:         sla,
				Price:       price,
				NodeId:      node,
				Reservation: d,
				Status:      fogtypes.StatusPending,
				CreatedAt:   time.Now(),
			}
		},
	)
	if !ok {
		// a concurrent bid consumed the slack between the read above and
		// the atomic reserve; treat as no bid rather than retrying, since
		// the caller's fan-out already tolerates empty results.
		obs.RecordBidOutcome("no_bid")
		return nil, nil
	}

	obs.RecordBidOutcome("bid")
	obs.SetReservationsActive(s.repo.ActiveReservationCount())
	return &rec, nil
}

// ProvisionFromBid implements spec.md §4.2's provision_from_bid: it
// accepts a Pending bid, re-verifies affordability under lock (spec.md §9's
// first Open Question — a correctness improvement over the original
// source, which does not re-check), deploys on the FaaS Backend, and on
// success records the function in the Provisioned Repository. On any
// failure the reservation is released and the bid transitions to
// Cancelled.
func (s *Service) ProvisionFromBid(ctx context.Context, id fogtypes.BidId) error {
	rec, err := s.repo.accept(id)
	if err != nil {
		return err
	}

	avail, err := s.tracker.Available(ctx, rec.NodeId)
	if err != nil {
		s.repo.cancelAndRelease(id)
		return fmt.Errorf("%w: %v", fogtypes.ErrAdapterUnavailable, err)
	}
	// reservations live in the Auction Repository, not in the Resource
	// Tracker's "used", so the ones held against this node (this bid's
	// included) are subtracted before checking that slack is still
	// non-negative.
	reserved := s.repo.Reserved(rec.NodeId)
	if avail.CpuMillicpu-reserved.CpuMillicpu < 0 || avail.RamBytes-reserved.RamBytes < 0 {
		s.repo.cancelAndRelease(id)
		return fogtypes.ErrOvercommitted
	}

	name, err := s.backend.Deploy(ctx, id, rec.Sla)
	if err != nil {
		s.repo.cancelAndRelease(id)
		return fmt.Errorf("%w: %v", fogtypes.ErrDeployFailed, err)
	}

	s.provis.Put(provisioned.Entry{BidId: id, FunctionName: name, Sla: rec.Sla})
	obs.SetReservationsActive(s.repo.ActiveReservationCount())
	return nil
}

// RunJanitor sweeps Pending bids older than ttl until ctx is cancelled,
// releasing their reservations. Intended to run as one background
// goroutine per node, per spec.md §4.2.
func (s *Service) RunJanitor(ctx context.Context, ttl time.Duration) {
	tick := time.NewTicker(ttl / 3)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			expired := s.repo.ExpirePendingOlderThan(ttl, now)
			if len(expired) > 0 {
				s.log.Debug().Int("count", len(expired)).Msg("janitor expired pending bids")
				obs.SetReservationsActive(s.repo.ActiveReservationCount())
			}
		}
	}
}
