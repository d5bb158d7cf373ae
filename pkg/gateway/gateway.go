// Package gateway wires every component into the HTTP surface spec.md §6
// names, using gorilla/mux the way
// pkg/provider_daemon/portal_api.go and provider/gateway/rest/server.go
// do in the teacher repo.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fogauction/control-plane/pkg/auction"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/functionlife"
	"github.com/fogauction/control-plane/pkg/latency"
	"github.com/fogauction/control-plane/pkg/market"
	"github.com/fogauction/control-plane/pkg/nodelife"
	"github.com/fogauction/control-plane/pkg/obs"
	"github.com/fogauction/control-plane/pkg/routing"
)

// Server hosts every /api endpoint for one fog node process. Market-only
// fields (Market) are nil on a non-market node; Auction is nil on the
// market node, which never hosts functions.
type Server struct {
	Router  *mux.Router
	log     zerolog.Logger
	node    fogtypes.NodeId
	life    *functionlife.Service
	auction *auction.Service
	routes  *routing.Router
	nlife   *nodelife.Service
	mkt     *market.Service
	probe   latency.Probe
}

// NewServer builds and routes a Server. mkt may be nil for a non-market
// node; auctionSvc may be nil for the market node.
func NewServer(
	node fogtypes.NodeId,
	life *functionlife.Service,
	auctionSvc *auction.Service,
	routes *routing.Router,
	nlife *nodelife.Service,
	mkt *market.Service,
	probe latency.Probe,
	log zerolog.Logger,
) *Server {
	s := &Server{
		Router:  mux.NewRouter(),
		log:     log,
		node:    node,
		life:    life,
		auction: auctionSvc,
		routes:  routes,
		nlife:   nlife,
		mkt:     mkt,
		probe:   probe,
	}
	s.routesInit()
	return s
}

func (s *Server) routesInit() {
	api := s.Router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/bid", s.handleBid).Methods(http.MethodPost)
	api.HandleFunc("/bid/{id}", s.handleAcceptBid).Methods(http.MethodPost)
	api.HandleFunc("/routing", s.handlePutRouting).Methods(http.MethodPut)
	api.HandleFunc("/routing", s.handleForward).Methods(http.MethodPost)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/ping", s.handlePing).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/metrics", obs.MetricsHandler().ServeHTTP).Methods(http.MethodGet)

	if s.mkt != nil {
		api.HandleFunc("/function", s.handlePutFunction).Methods(http.MethodPut)
		api.HandleFunc("/node/{id}", s.handlePatchNode).Methods(http.MethodPatch)
	}
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req fogtypes.BidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.life.Bid(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	obs.SetRoutingTableSize(s.routes.Table().Len())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	if s.auction == nil {
		httpError(w, fogtypes.ErrUnknownOrStaleBid)
		return
	}
	id, err := fogtypes.ParseBidId(mux.Vars(r)["id"])
	if err != nil {
		httpError(w, fogtypes.ErrUnknownOrStaleBid)
		return
	}
	if err := s.auction.ProvisionFromBid(r.Context(), id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutRouting(w http.ResponseWriter, r *http.Request) {
	var stack fogtypes.FunctionRoutingStack
	if !decodeJSON(w, r, &stack) {
		return
	}
	if err := s.routes.RegisterFunctionRoute(r.Context(), stack); err != nil {
		httpError(w, err)
		return
	}
	obs.SetRoutingTableSize(s.routes.Table().Len())
	w.WriteHeader(http.StatusNoContent)
}

// handleForward implements POST /api/routing. The opaque payload is the
// raw request body, never unmarshalled (spec.md §4.5); bid_id travels as
// a query parameter since the body is reserved entirely for payload bytes.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	bidId, err := fogtypes.ParseBidId(r.URL.Query().Get("bid_id"))
	if err != nil {
		httpError(w, fogtypes.ErrMalformedStack)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, err)
		return
	}
	out, err := s.routes.Forward(r.Context(), bidId, payload)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req fogtypes.RegisterNode
	if !decodeJSON(w, r, &req) {
		return
	}
	s.nlife.RegisterChild(req)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SentAt time.Time `json:"sent_at"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.SentAt.IsZero() {
		body.SentAt = time.Now()
	}
	writeJSON(w, http.StatusOK, fogtypes.PingResponse{SentAt: body.SentAt, ReceivedAt: time.Now()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutFunction(w http.ResponseWriter, r *http.Request) {
	var req fogtypes.PutSla
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.mkt.PutFunction(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	if resp.ChosenBid != nil {
		// The market is the first hop of the stack: register it locally so
		// invocations entering at the market are forwarded down. This sends
		// the unchanged stack to the next hop again, which re-installs the
		// same entries.
		stack := fogtypes.FunctionRoutingStack{
			BidId: resp.ChosenBid.BidId,
			Stack: append([]fogtypes.NodeId{s.node}, resp.ChosenBid.Path...),
		}
		if err := s.routes.RegisterFunctionRoute(r.Context(), stack); err != nil {
			s.log.Warn().Err(err).Str("bid_id", resp.ChosenBid.BidId.String()).Msg("market route install failed")
		}
		obs.SetRoutingTableSize(s.routes.Table().Len())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePatchNode(w http.ResponseWriter, r *http.Request) {
	id, err := fogtypes.ParseNodeId(mux.Vars(r)["id"])
	if err != nil {
		httpError(w, fogtypes.ErrUnknownNeighbor)
		return
	}
	var body struct {
		CreatedAt time.Time `json:"created_at"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if sp, ok := s.probe.(*latency.StaticProbe); ok {
		sp.Set(id, time.Since(body.CreatedAt))
	}
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, errors.New("malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the {kind, message} structured error spec.md §6 requires.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var kindTable = []struct {
	err  error
	kind string
}{
	{fogtypes.ErrAdapterUnavailable, "resource"},
	{fogtypes.ErrQuantityParse, "resource"},
	{fogtypes.ErrUnknownOrStaleBid, "auction"},
	{fogtypes.ErrDeployFailed, "auction"},
	{fogtypes.ErrOvercommitted, "auction"},
	{fogtypes.ErrNoFeasibleNode, "auction"},
	{fogtypes.ErrMalformedStack, "routing"},
	{fogtypes.ErrNoMarketLink, "routing"},
	{fogtypes.ErrUnknownNeighbor, "routing"},
	{fogtypes.ErrRegistrationFailed, "registration"},
	{fogtypes.ErrConfigInvalid, "configuration"},
	{fogtypes.ErrPeerTimeout, "transport"},
	{fogtypes.ErrPeerFailure, "transport"},
}

func httpError(w http.ResponseWriter, err error) {
	kind := "internal"
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			kind = k.kind
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorBody{Kind: kind, Message: err.Error()})
}
