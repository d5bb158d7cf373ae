// Package auction implements the Auction Repository and Auction Service:
// local single-node bidding (feasibility + pricing), bid bookkeeping with
// atomic resource reservation, and the provisioning handoff to the FaaS
// backend. Grounded in shape on pkg/provider_daemon/bid_engine.go's
// BidEngine/RateLimiter pair from the teacher repo, adapted from
// chain-order bidding to local sealed-bid auctions with a reservation
// ledger instead of a rate limiter.
package auction

import (
	"sync"
	"time"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Repository stores open bids together with the resource reservations they
// hold, and decides local affordability. All reservation mutation happens
// inside a single critical section per spec.md §5 — the affordability
// check and the reservation update are never split across two locks.
type Repository struct {
	mu sync.Mutex

	records      map[fogtypes.BidId]*fogtypes.BidRecord
	reservations map[fogtypes.NodeId]fogtypes.ResourceReservation
}

// NewRepository creates an empty Auction Repository.
func NewRepository() *Repository {
	return &Repository{
		records:      make(map[fogtypes.BidId]*fogtypes.BidRecord),
		reservations: make(map[fogtypes.NodeId]fogtypes.ResourceReservation),
	}
}

// Reserved returns the sum of reservations currently held against a node,
// i.e. the bookkeeping that must be subtracted from the Resource Tracker's
// reported availability before a new bid is evaluated.
func (r *Repository) Reserved(node fogtypes.NodeId) fogtypes.ResourceReservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reservations[node]
}

// TryReserveAndInsert is the single critical section spec.md §5 demands:
// given the caller's already-fetched (I/O-free) snapshot of available
// resources per candidate node, it re-checks each node's slack against the
// *current* reservation ledger and, for the first node with non-negative
// slack across both dimensions, books the reservation and stores the
// Pending record — all under one lock acquisition. Returns a copy of the
// stored record and true, or false if no candidate remains feasible once
// current reservations are accounted for.
func (r *Repository) TryReserveAndInsert(
	candidates []fogtypes.NodeId,
	available map[fogtypes.NodeId]fogtypes.ResourceReservation,
	demand fogtypes.ResourceReservation,
	build func(node fogtypes.NodeId) *fogtypes.BidRecord,
) (fogtypes.BidRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range candidates {
		avail := available[node]
		reserved := r.reservations[node]
		slackCPU := avail.CpuMillicpu - reserved.CpuMillicpu - demand.CpuMillicpu
		slackRAM := avail.RamBytes - reserved.RamBytes - demand.RamBytes
		if slackCPU < 0 || slackRAM < 0 {
			continue
		}
		rec := build(node)
		r.records[rec.Id] = rec
		res := r.reservations[rec.NodeId]
		res.CpuMillicpu += rec.Reservation.CpuMillicpu
		res.RamBytes += rec.Reservation.RamBytes
		r.reservations[rec.NodeId] = res
		return *rec, true
	}
	return fogtypes.BidRecord{}, false
}

// Feasible reports, for the given already-fetched availability snapshot,
// whether any candidate has non-negative slack across cpu and memory once
// current reservations are subtracted. Pure read, for callers that want a
// feasibility verdict without reserving.
func (r *Repository) Feasible(
	candidates []fogtypes.NodeId,
	available map[fogtypes.NodeId]fogtypes.ResourceReservation,
	demand fogtypes.ResourceReservation,
) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, node := range candidates {
		avail := available[node]
		reserved := r.reservations[node]
		if avail.CpuMillicpu-reserved.CpuMillicpu-demand.CpuMillicpu >= 0 &&
			avail.RamBytes-reserved.RamBytes-demand.RamBytes >= 0 {
			return true
		}
	}
	return false
}

// Get returns a copy of the bid record, if present.
func (r *Repository) Get(id fogtypes.BidId) (fogtypes.BidRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fogtypes.BidRecord{}, false
	}
	return *rec, true
}

// release subtracts the record's reservation from its node's ledger,
// clamping at zero. Must be called with r.mu held.
func (r *Repository) release(rec *fogtypes.BidRecord) {
	res := r.reservations[rec.NodeId]
	res.CpuMillicpu -= rec.Reservation.CpuMillicpu
	res.RamBytes -= rec.Reservation.RamBytes
	if res.CpuMillicpu < 0 {
		res.CpuMillicpu = 0
	}
	if res.RamBytes < 0 {
		res.RamBytes = 0
	}
	r.reservations[rec.NodeId] = res
}

// Cancel transitions a Pending bid to Cancelled and releases its
// reservation. No-op if the bid is absent or already terminal.
func (r *Repository) Cancel(id fogtypes.BidId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != fogtypes.StatusPending {
		return
	}
	rec.Status = fogtypes.StatusCancelled
	r.release(rec)
}

// accept transitions a Pending bid to Accepted. The reservation stays in
// place: it becomes a permanent allocation once provisioning succeeds, or
// is released if provisioning fails (see Service.ProvisionFromBid).
func (r *Repository) accept(id fogtypes.BidId) (*fogtypes.BidRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != fogtypes.StatusPending {
		return nil, fogtypes.ErrUnknownOrStaleBid
	}
	rec.Status = fogtypes.StatusAccepted
	return rec, nil
}

// cancelAndRelease is accept's rollback path: it releases the reservation
// and marks the bid Cancelled, used when provisioning fails after accept.
func (r *Repository) cancelAndRelease(id fogtypes.BidId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.Status = fogtypes.StatusCancelled
	r.release(rec)
}

// ExpirePendingOlderThan is the janitor's sweep: every Pending record older
// than ttl is marked Expired and its reservation released. Returns the ids
// expired, for logging/metrics.
func (r *Repository) ExpirePendingOlderThan(ttl time.Duration, now time.Time) []fogtypes.BidId {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []fogtypes.BidId
	for id, rec := range r.records {
		if rec.Status == fogtypes.StatusPending && now.Sub(rec.CreatedAt) > ttl {
			rec.Status = fogtypes.StatusExpired
			r.release(rec)
			expired = append(expired, id)
		}
	}
	return expired
}

// Len reports how many bid records (of any status) are retained.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ActiveReservationCount reports how many nodes currently hold a non-zero
// reservation, for the fog_reservations_active gauge.
func (r *Repository) ActiveReservationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.reservations {
		if res.CpuMillicpu > 0 || res.RamBytes > 0 {
			n++
		}
	}
	return n
}
