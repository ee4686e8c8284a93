// Package nodeapi wraps the ledger node HTTP endpoints.
//
// Ledger goes through the failover dispatcher and is used for reads and
// writes where any node will do. Direct addresses one specific node and is
// used by the health probe and the admin fan-out commands.
package nodeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/types"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              string `json:"status,omitempty"`
	Blocks              int    `json:"blocks"`
	PendingTransactions int    `json:"pending_transactions,omitempty"`
}

// OrganizationsResponse is the body of GET /organizations.
type OrganizationsResponse struct {
	Organizations []string `json:"organizations"`
}

// NewTransaction is the body of POST /transactions/new.
type NewTransaction struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// MessageResponse is the generic acknowledgement most write endpoints send.
type MessageResponse struct {
	Message     string `json:"message"`
	MempoolSize int    `json:"mempool_size,omitempty"`
	TotalPeers  int    `json:"total_peers,omitempty"`
	NewLength   int    `json:"new_length,omitempty"`
	Length      int    `json:"length,omitempty"`
}

// MineResponse is the body of a successful POST /mine.
type MineResponse struct {
	Message string      `json:"message"`
	Block   types.Block `json:"block"`
}

// PeersResponse is the body of GET /nodes/list.
type PeersResponse struct {
	Peers []string `json:"peers"`
	Count int      `json:"count"`
}

type registerRequest struct {
	NodeAddress string `json:"node_address"`
}

// Ledger talks to whichever node the dispatcher picks.
type Ledger struct {
	d *dispatch.Dispatcher
}

// NewLedger returns a Ledger client over d.
func NewLedger(d *dispatch.Dispatcher) *Ledger {
	return &Ledger{d: d}
}

// Organizations fetches the list of valid recipients.
func (l *Ledger) Organizations(ctx context.Context) ([]string, error) {
	resp, err := dispatch.Call[OrganizationsResponse](ctx, l.d, http.MethodGet, "/organizations", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch organizations: %w", err)
	}
	return resp.Organizations, nil
}

// Stats fetches the node's own report about its chain.
func (l *Ledger) Stats(ctx context.Context) (types.NodeReport, error) {
	report, err := dispatch.Call[types.NodeReport](ctx, l.d, http.MethodGet, "/stats", nil)
	if err != nil {
		return types.NodeReport{}, fmt.Errorf("fetch stats: %w", err)
	}
	return report, nil
}

// Chain fetches the full chain. A body that is valid JSON but lacks the
// chain key or required block fields fails that attempt, so the dispatcher
// moves on to the next node.
func (l *Ledger) Chain(ctx context.Context) ([]types.Block, error) {
	var blocks []types.Block
	err := l.d.Do(ctx, http.MethodGet, "/chain", nil, func(raw json.RawMessage) error {
		b, err := DecodeChain(raw)
		if err != nil {
			return err
		}
		blocks = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch chain: %w", err)
	}
	return blocks, nil
}

// SubmitTransaction posts a new donation.
func (l *Ledger) SubmitTransaction(ctx context.Context, tx NewTransaction) (MessageResponse, error) {
	resp, err := dispatch.Call[MessageResponse](ctx, l.d, http.MethodPost, "/transactions/new", tx)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("submit transaction: %w", err)
	}
	return resp, nil
}

// Mine asks the preferred node to seal a block from its mempool.
func (l *Ledger) Mine(ctx context.Context) (MineResponse, error) {
	resp, err := dispatch.Call[MineResponse](ctx, l.d, http.MethodPost, "/mine", nil)
	if err != nil {
		return MineResponse{}, fmt.Errorf("mine: %w", err)
	}
	return resp, nil
}

// Direct talks to one named node without failover.
type Direct struct {
	d *dispatch.Dispatcher
}

// NewDirect returns a Direct client sharing d's HTTP client and limiter.
func NewDirect(d *dispatch.Dispatcher) *Direct {
	return &Direct{d: d}
}

// Health calls GET /health on node.
func (c *Direct) Health(ctx context.Context, node string) (HealthResponse, error) {
	var out HealthResponse
	err := c.d.Send(ctx, node, http.MethodGet, "/health", nil, decodeInto(&out))
	return out, err
}

// RegisterPeer asks node to add peer to its peer set.
func (c *Direct) RegisterPeer(ctx context.Context, node, peer string) error {
	return c.d.Send(ctx, node, http.MethodPost, "/nodes/register", registerRequest{NodeAddress: peer}, nil)
}

// Consensus asks node to reconcile its chain against its peers.
func (c *Direct) Consensus(ctx context.Context, node string) (MessageResponse, error) {
	var out MessageResponse
	err := c.d.Send(ctx, node, http.MethodPost, "/consensus", nil, decodeInto(&out))
	return out, err
}

// Peers lists the peers node knows about.
func (c *Direct) Peers(ctx context.Context, node string) ([]string, error) {
	var out PeersResponse
	if err := c.d.Send(ctx, node, http.MethodGet, "/nodes/list", nil, decodeInto(&out)); err != nil {
		return nil, err
	}
	return out.Peers, nil
}

// Chain fetches node's own chain.
func (c *Direct) Chain(ctx context.Context, node string) ([]types.Block, error) {
	var blocks []types.Block
	err := c.d.Send(ctx, node, http.MethodGet, "/chain", nil, func(raw json.RawMessage) error {
		var err error
		blocks, err = DecodeChain(raw)
		return err
	})
	return blocks, err
}

// ForwardTransaction hands a transaction accepted elsewhere to node's
// mempool. The receiving node does not forward it again.
func (c *Direct) ForwardTransaction(ctx context.Context, node string, tx NewTransaction) error {
	return c.d.Send(ctx, node, http.MethodPost, "/transactions/receive", tx, nil)
}

// AnnounceBlock tells node a new block was mined so it runs consensus.
func (c *Direct) AnnounceBlock(ctx context.Context, node string) error {
	return c.d.Send(ctx, node, http.MethodPost, "/blocks/receive", struct{}{}, nil)
}

func decodeInto[T any](out *T) dispatch.DecodeFunc {
	return func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*out = v
		return nil
	}
}
