// Package fogconfig loads a fog node's NodeSituation and tunables, per
// spec.md §6's CONFIG/OPENFAAS_*/ROCKET_PORT environment contract.
// Grounded on cmd/provider-daemon/main.go's viper/cobra bootstrap from the
// teacher repo.
package fogconfig

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/spf13/viper"

	"github.com/fogauction/control-plane/pkg/auction"
	"github.com/fogauction/control-plane/pkg/faas"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/functionlife"
)

// Flag names for cmd/fognode, bound to viper the way FlagChainID et al.
// are bound in the teacher's cmd/provider-daemon/main.go.
const (
	FlagConfig          = "config"
	FlagConfigFile      = "config-file"
	FlagPublicIP         = "public-ip"
	FlagListenPort       = "rocket-port" // kept as ROCKET_PORT for protocol fidelity
	FlagOpenFaaSIP       = "openfaas-ip"
	FlagOpenFaaSPort     = "openfaas-port"
	FlagOpenFaaSUsername = "openfaas-username"
	FlagOpenFaaSPassword = "openfaas-password"
	FlagBidTTL           = "bid-ttl"
	FlagBidDeadline      = "bid-deadline"
	FlagPricingBase      = "pricing-base"
	FlagPricingAlpha     = "pricing-alpha"
	FlagPlacementPolicy  = "placement-policy"
	FlagCapacityCPU      = "capacity-cpu-millicpu"
	FlagCapacityRAM      = "capacity-ram-bytes"
)

// persistedNodeSituation is the at-rest shape spec.md §6 names: a
// human-editable record distinct from the in-memory NodeSituation (plain
// strings instead of category constants, no runtime-only fields).
type persistedNodeSituation struct {
	MyId      string            `json:"my_id"`
	MarketUrl *string           `json:"market_url"`
	Nodes     []persistedNeighbor `json:"nodes"`
}

type persistedNeighbor struct {
	Id       string `json:"id"`
	Uri      string `json:"uri"`
	Category string `json:"category"`
}

// Config is the full set of tunables a fog node process needs.
type Config struct {
	Situation       fogtypes.NodeSituation
	ListenPort      uint16
	FaaS            faas.Config
	BidTTL          time.Duration
	BidDeadline     time.Duration
	Pricing         auction.PricingConfig
	PlacementPolicy functionlife.PlacementPolicy
	// CapacityCPU/CapacityRAM seed this node's own entry in the
	// StaticClusterAdapter; the real cluster-resource integration that
	// would report these live is out of scope (spec.md §1).
	CapacityCPU int64
	CapacityRAM int64
}

// Load reads viper's bound values (flags/env) into a Config. The CONFIG
// value is base64-encoded JSON matching persistedNodeSituation, per
// spec.md §6. Returns fogtypes.ErrConfigInvalid wrapped with detail on any
// parse failure — fatal at startup per spec.md §7.
func Load(v *viper.Viper) (Config, error) {
	raw := v.GetString(FlagConfig)
	if raw == "" {
		return Config{}, fmt.Errorf("%w: CONFIG is empty", fogtypes.ErrConfigInvalid)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: CONFIG is not valid base64: %v", fogtypes.ErrConfigInvalid, err)
	}
	var persisted persistedNodeSituation
	if err := json.Unmarshal(decoded, &persisted); err != nil {
		return Config{}, fmt.Errorf("%w: CONFIG is not valid JSON: %v", fogtypes.ErrConfigInvalid, err)
	}

	situation, err := toNodeSituation(persisted, v.GetString(FlagPublicIP), v.GetUint(FlagListenPort))
	if err != nil {
		return Config{}, err
	}
	if !situation.Valid() {
		return Config{}, fmt.Errorf("%w: is_market must imply no to_market link and vice versa", fogtypes.ErrConfigInvalid)
	}

	base, ok := sdkDecFromString(v.GetString(FlagPricingBase), "0.1")
	if !ok {
		return Config{}, fmt.Errorf("%w: pricing-base is not a valid decimal", fogtypes.ErrConfigInvalid)
	}
	alpha, ok := sdkDecFromString(v.GetString(FlagPricingAlpha), "1.0")
	if !ok {
		return Config{}, fmt.Errorf("%w: pricing-alpha is not a valid decimal", fogtypes.ErrConfigInvalid)
	}

	policy := functionlife.TopDown
	if v.GetString(FlagPlacementPolicy) == "bottom-up" {
		policy = functionlife.BottomUp
	}

	bidTTL := v.GetDuration(FlagBidTTL)
	if bidTTL == 0 {
		bidTTL = auction.DefaultBidTTL
	}
	bidDeadline := v.GetDuration(FlagBidDeadline)
	if bidDeadline == 0 {
		bidDeadline = functionlife.DefaultBidDeadline
	}

	return Config{
		Situation:  situation,
		ListenPort: uint16(v.GetUint(FlagListenPort)),
		FaaS: faas.Config{
			IP:       v.GetString(FlagOpenFaaSIP),
			Port:     v.GetString(FlagOpenFaaSPort),
			Username: v.GetString(FlagOpenFaaSUsername),
			Password: v.GetString(FlagOpenFaaSPassword),
		},
		BidTTL:          bidTTL,
		BidDeadline:     bidDeadline,
		Pricing:         auction.PricingConfig{Base: base, Alpha: alpha},
		PlacementPolicy: policy,
		CapacityCPU:     int64(v.GetInt64(FlagCapacityCPU)),
		CapacityRAM:     int64(v.GetInt64(FlagCapacityRAM)),
	}, nil
}

func toNodeSituation(p persistedNodeSituation, publicIP string, listenPort uint) (fogtypes.NodeSituation, error) {
	myId, err := fogtypes.ParseNodeId(p.MyId)
	if err != nil {
		return fogtypes.NodeSituation{}, fmt.Errorf("%w: my_id: %v", fogtypes.ErrConfigInvalid, err)
	}

	nodes := make(map[fogtypes.NodeId]fogtypes.Node, len(p.Nodes))
	for _, n := range p.Nodes {
		id, err := fogtypes.ParseNodeId(n.Id)
		if err != nil {
			return fogtypes.NodeSituation{}, fmt.Errorf("%w: neighbor id: %v", fogtypes.ErrConfigInvalid, err)
		}
		var category fogtypes.NeighborCategory
		switch n.Category {
		case "Parent":
			category = fogtypes.Parent
		case "Child":
			category = fogtypes.Child
		default:
			return fogtypes.NodeSituation{}, fmt.Errorf("%w: unknown neighbor category %q", fogtypes.ErrConfigInvalid, n.Category)
		}
		nodes[id] = fogtypes.Node{Id: id, Uri: n.Uri, Category: category}
	}

	situation := fogtypes.NodeSituation{
		MyId:       myId,
		PublicIP:   publicIP,
		PublicPort: uint16(listenPort),
		Nodes:      nodes,
	}

	// is_market is derived from the absence of a Parent-tagged neighbor, not
	// from whether market_url is set, matching manager/src/routing.rs.
	if parent, ok := situation.Parent(); ok {
		situation.ToMarket = &parent
	} else {
		situation.IsMarket = true
		if p.MarketUrl != nil {
			situation.MarketURL = *p.MarketUrl
		}
	}
	return situation, nil
}

// sdkDecFromString parses s, falling back to def when s is empty.
func sdkDecFromString(s, def string) (fogtypes.Money, bool) {
	if s == "" {
		s = def
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return fogtypes.Money{}, false
	}
	return d, true
}
