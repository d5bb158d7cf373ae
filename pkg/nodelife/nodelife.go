// Package nodelife implements Node Life: registration with the parent (or
// market) on startup and recording of children as they register.
// Grounded in shape on pkg/provider_daemon/main.go's fatal-on-init-failure
// pattern from the teacher repo.
package nodelife

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// ParentDialer issues the outbound POST /register call to a parent (or
// market, for a newly joining node with no parent yet). Satisfied by
// pkg/peerclient.Client.
type ParentDialer interface {
	PostRegister(ctx context.Context, parent fogtypes.Node, req fogtypes.RegisterNode) error
}

// Service owns one node's NodeSituation and drives startup registration.
type Service struct {
	mu        sync.RWMutex
	situation fogtypes.NodeSituation
	dialer    ParentDialer
	log       zerolog.Logger
}

// New builds a Node Life service over an initial NodeSituation.
func New(situation fogtypes.NodeSituation, dialer ParentDialer, log zerolog.Logger) *Service {
	return &Service{situation: situation, dialer: dialer, log: log}
}

// Situation returns a copy of the current NodeSituation.
func (s *Service) Situation() fogtypes.NodeSituation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.situation
}

// Children returns the neighbors tagged Child.
func (s *Service) Children() []fogtypes.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.situation.Children()
}

// Parent returns the neighbor tagged Parent, if any.
func (s *Service) Parent() (fogtypes.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.situation.Parent()
}

// RegisterWithParent implements spec.md §4.7's startup flow: POST /register
// to the parent (or market URL for a newly joining node). A failure here is
// fatal — the caller is expected to exit non-zero.
func (s *Service) RegisterWithParent(ctx context.Context) error {
	s.mu.RLock()
	situation := s.situation
	s.mu.RUnlock()

	if situation.IsMarket {
		return nil // the market has no parent to register with
	}

	parent, ok := situation.Parent()
	if !ok {
		if situation.ToMarket == nil {
			return fmt.Errorf("%w: no parent neighbor configured", fogtypes.ErrConfigInvalid)
		}
		parent = *situation.ToMarket // newly joining node: register against the market URL
	}

	req := fogtypes.RegisterNode{NodeId: situation.MyId, Ip: situation.PublicIP, Port: situation.PublicPort}
	if err := s.dialer.PostRegister(ctx, parent, req); err != nil {
		return fmt.Errorf("%w: %v", fogtypes.ErrRegistrationFailed, err)
	}
	return nil
}

// RegisterChild implements the receiving side: a parent recording a child
// that just registered with it (POST /register handler).
func (s *Service) RegisterChild(req fogtypes.RegisterNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.situation.Nodes[req.NodeId] = fogtypes.Node{
		Id:       req.NodeId,
		Uri:      fmt.Sprintf("http://%s:%d", req.Ip, req.Port),
		Category: fogtypes.Child,
	}
}
