// Package peerclient is the single outbound HTTP client every node uses to
// dial neighbors: POST /bid (functionlife.PeerBidder), POST /bid/{id}
// (market.AcceptDialer), and the routing.PeerDialer pair. Grounded on
// sdk/go/node/client/rpc.go's single shared *http.Client pattern from the
// teacher repo.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

// Client satisfies functionlife.PeerBidder, market.AcceptDialer, and
// routing.PeerDialer over real HTTP.
type Client struct {
	HTTP *http.Client
}

// New builds a Client with a bounded per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) PostBid(ctx context.Context, neighbor fogtypes.Node, req fogtypes.BidRequest) (fogtypes.BidProposals, error) {
	var out fogtypes.BidProposals
	err := c.postJSON(ctx, neighbor.Uri+"/api/bid", req, &out)
	return out, err
}

func (c *Client) PostAccept(ctx context.Context, winnerUri string, bidId fogtypes.BidId) error {
	url := fmt.Sprintf("%s/api/bid/%s", winnerUri, bidId.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", fogtypes.ErrPeerFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d", fogtypes.ErrPeerFailure, resp.StatusCode)
	}
	return nil
}

func (c *Client) PostRegister(ctx context.Context, parent fogtypes.Node, req fogtypes.RegisterNode) error {
	var discard struct{}
	return c.postJSON(ctx, parent.Uri+"/api/register", req, &discard)
}

func (c *Client) PutRouting(ctx context.Context, neighbor fogtypes.Node, stack fogtypes.FunctionRoutingStack) error {
	var discard struct{}
	return c.putJSON(ctx, neighbor.Uri+"/api/routing", stack, &discard)
}

func (c *Client) PostRouting(ctx context.Context, neighbor fogtypes.Node, bidId fogtypes.BidId, payload []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/api/routing?bid_id=%s", neighbor.Uri, bidId.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fogtypes.ErrPeerFailure, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fogtypes.ErrPeerFailure, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d", fogtypes.ErrPeerFailure, resp.StatusCode)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, url, body, out)
}

func (c *Client) putJSON(ctx context.Context, url string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, url, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", fogtypes.ErrPeerTimeout, err)
		}
		return fmt.Errorf("%w: %v", fogtypes.ErrPeerFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d", fogtypes.ErrPeerFailure, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
