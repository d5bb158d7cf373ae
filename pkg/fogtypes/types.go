// Package fogtypes holds the data model shared by every component of the
// fog auction control plane: identifiers, SLAs, node topology, bids, and
// routing decisions.
package fogtypes

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// NodeId identifies a node in the topology tree.
type NodeId uuid.UUID

// BidId identifies a bid and, once accepted, the function it provisions.
type BidId uuid.UUID

// NewNodeId allocates a fresh random NodeId.
func NewNodeId() NodeId { return NodeId(uuid.New()) }

// NewBidId allocates a fresh random BidId.
func NewBidId() BidId { return BidId(uuid.New()) }

func (n NodeId) String() string { return uuid.UUID(n).String() }
func (b BidId) String() string  { return uuid.UUID(b).String() }

// ParseNodeId parses a NodeId from its canonical string form.
func ParseNodeId(s string) (NodeId, error) {
	u, err := uuid.Parse(s)
	return NodeId(u), err
}

// ParseBidId parses a BidId from its canonical string form.
func ParseBidId(s string) (BidId, error) {
	u, err := uuid.Parse(s)
	return BidId(u), err
}

// Money is a fixed-point decimal price, matching the teacher's use of
// cosmossdk.io/math.LegacyDec for on-chain-compatible price arithmetic.
type Money = sdkmath.LegacyDec

// Sla describes the resource and QoS requirements of a function to be
// placed. Immutable once issued.
type Sla struct {
	StorageBytes       int64             `json:"storage_bytes"`
	RamBytes           int64             `json:"ram_bytes"`
	CpuMillicpu        int64             `json:"cpu_millicpu"`
	LatencyMaxMs       int64             `json:"latency_max_ms"`
	DataInputMaxBytes  int64             `json:"data_input_max_bytes"`
	DataOutputMaxBytes int64             `json:"data_output_max_bytes"`
	MaxMsBeforeHot     int64             `json:"max_ms_before_hot"`
	ReevaluationPeriodS *int64           `json:"reevaluation_period_s,omitempty"`
	Name               string            `json:"name,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
}

// NeighborCategory tags a neighbor as reachable upstream or downstream.
type NeighborCategory string

const (
	Parent NeighborCategory = "Parent"
	Child  NeighborCategory = "Child"
)

// Node is a neighbor descriptor as seen from a NodeSituation.
type Node struct {
	Id       NodeId           `json:"id"`
	Uri      string           `json:"uri"`
	Category NeighborCategory `json:"category"`
}

// NodeSituation is the full topology view held by one node.
type NodeSituation struct {
	MyId        NodeId           `json:"my_id"`
	PublicIP    string           `json:"public_ip"`
	PublicPort  uint16           `json:"public_port"`
	Nodes       map[NodeId]Node  `json:"nodes"`
	ToMarket    *Node            `json:"to_market,omitempty"`
	IsMarket    bool             `json:"is_market"`
	MarketURL   string           `json:"market_url,omitempty"`
}

// Children returns the neighbors tagged Child.
func (s *NodeSituation) Children() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Category == Child {
			out = append(out, n)
		}
	}
	return out
}

// Parent returns the neighbor tagged Parent, if any.
func (s *NodeSituation) Parent() (Node, bool) {
	for _, n := range s.Nodes {
		if n.Category == Parent {
			return n, true
		}
	}
	return Node{}, false
}

// Valid checks the is_market <=> to_market invariant from the spec.
func (s *NodeSituation) Valid() bool {
	return s.IsMarket == (s.ToMarket == nil)
}

// BidStatus is the lifecycle state of a BidRecord.
type BidStatus string

const (
	StatusPending   BidStatus = "Pending"
	StatusAccepted  BidStatus = "Accepted"
	StatusCancelled BidStatus = "Cancelled"
	StatusExpired   BidStatus = "Expired"
)

// ResourceReservation is the logical bookkeeping deducted from a node's
// available resources while a bid is outstanding.
type ResourceReservation struct {
	CpuMillicpu int64
	RamBytes    int64
}

// BidRecord is the full state of a bid held by the Auction Repository.
type BidRecord struct {
	Id          BidId
	Sla         Sla
	Price       Money
	NodeId      NodeId
	Reservation ResourceReservation
	Status      BidStatus
	CreatedAt   time.Time
}

// BidProposal is the externally visible shape of a bid: just enough to
// run selection and reconstruct the routing path. Path and LatencyMs are
// piggybacked through recursive bid responses per spec.md §9's second
// Open Question, so the market never needs a separate topology query to
// install routes or to re-check the latency filter at selection time.
type BidProposal struct {
	BidId     BidId    `json:"bid_id"`
	NodeId    NodeId   `json:"node_id"`
	Uri       string   `json:"uri"`
	Price     Money    `json:"price"`
	Path      []NodeId `json:"path"`
	LatencyMs int64    `json:"latency_ms"`
}

// BidRequest is the payload of POST /bid.
type BidRequest struct {
	Sla                  Sla   `json:"sla"`
	AccumulatedLatencyMs int64 `json:"accumulated_latency_ms"`
}

// BidProposals is the response of POST /bid.
type BidProposals struct {
	Bids []BidProposal `json:"bids"`
}

// PutSla is the market's PUT /api/function payload.
type PutSla struct {
	Sla      Sla    `json:"sla"`
	LeafNode NodeId `json:"leaf_node"`
}

// MarketBidProposal is the market's PUT /api/function response.
type MarketBidProposal struct {
	Bids       []BidProposal `json:"bids"`
	ChosenBid  *BidProposal  `json:"chosen_bid"`
	Price      *Money        `json:"price"`
}

// RegisterNode is the POST /register payload.
type RegisterNode struct {
	NodeId NodeId `json:"node_id"`
	Ip     string `json:"ip"`
	Port   uint16 `json:"port"`
}

// PingResponse is the POST /ping response.
type PingResponse struct {
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// ForwardingKind discriminates a RoutingEntry's destination.
type ForwardingKind string

const (
	Outside  ForwardingKind = "Outside"
	Inside   ForwardingKind = "Inside"
	ToMarket ForwardingKind = "ToMarket"
)

// ForwardingDecision is the value side of a RoutingEntry.
type ForwardingDecision struct {
	Kind ForwardingKind
	// NextHop is set only when Kind == Outside.
	NextHop NodeId
}

// FunctionRoutingStack is the hop-by-hop path from market to winner,
// installed by PUT /routing and walked by each intermediate node.
type FunctionRoutingStack struct {
	BidId BidId    `json:"bid_id"`
	Stack []NodeId `json:"stack"`
}
