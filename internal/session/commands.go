package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/nodeapi"
)

// Donation is the user input for Donate.
type Donation struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// Donate validates d, submits it through the failover dispatcher and
// schedules a stats and recent-transactions refresh. An empty sender is
// recorded as AnonymousSender.
func (s *Session) Donate(ctx context.Context, d Donation) (nodeapi.MessageResponse, error) {
	d.Sender = strings.TrimSpace(d.Sender)
	if d.Sender == "" {
		d.Sender = AnonymousSender
	}
	d.Recipient = strings.TrimSpace(d.Recipient)

	if d.Recipient == "" {
		return nodeapi.MessageResponse{}, fmt.Errorf("%w: choose an organization", ErrInvalidDonation)
	}
	if !d.Amount.IsPositive() {
		return nodeapi.MessageResponse{}, fmt.Errorf("%w: amount must be positive", ErrInvalidDonation)
	}

	if err := s.LoadOrganizations(ctx); err != nil {
		return nodeapi.MessageResponse{}, err
	}
	s.mu.RLock()
	known := slices.Contains(s.view.Organizations, d.Recipient)
	s.mu.RUnlock()
	if !known {
		return nodeapi.MessageResponse{}, fmt.Errorf("%w: unknown organization %q", ErrInvalidDonation, d.Recipient)
	}

	resp, err := s.ledger.SubmitTransaction(ctx, nodeapi.NewTransaction{
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Amount:    d.Amount,
	})
	if err != nil {
		s.feed.Error(fmt.Sprintf("Donation of %s to %s failed: %v", d.Amount, d.Recipient, err))
		return resp, err
	}

	s.feed.Info(fmt.Sprintf("Donation of %s from %s to %s submitted", d.Amount, d.Sender, d.Recipient))
	s.refreshLater(s.settle, "donation", s.RefreshStats, s.RefreshRecent)
	return resp, nil
}

// SyncPeers registers every node with every other node.
func (s *Session) SyncPeers(ctx context.Context) ([]admin.Leg, error) {
	legs, err := s.admin.SyncPeers(ctx)
	if err != nil {
		s.feed.Error(fmt.Sprintf("Node synchronization failed: %v", err))
		return legs, err
	}
	s.feed.Info(fmt.Sprintf("Nodes synchronized (%d registrations)", len(legs)))
	return legs, nil
}

// Mine asks a node to seal its pending transactions and, on success,
// refreshes stats, chain, recent transactions and health. Mining waits
// twice the settle delay so the new block can propagate to peers first.
func (s *Session) Mine(ctx context.Context) (nodeapi.MineResponse, error) {
	resp, err := s.admin.TriggerMine(ctx)
	switch {
	case errors.Is(err, admin.ErrEmptyMinePool):
		s.feed.Warning("Nothing to mine: no pending transactions")
		return resp, err
	case err != nil:
		s.feed.Error(fmt.Sprintf("Mining failed: %v", err))
		return resp, err
	}

	s.feed.Info(fmt.Sprintf("Block #%d mined with %d transactions", resp.Block.Index, len(resp.Block.Transactions)))
	s.refreshLater(2*s.settle, "mine", s.RefreshStats, s.RefreshChain, s.RefreshRecent, s.RefreshHealth)
	return resp, nil
}

// Consensus asks every node to reconcile its chain and, on success,
// refreshes stats, chain and health.
func (s *Session) Consensus(ctx context.Context) ([]admin.Leg, error) {
	legs, err := s.admin.TriggerConsensus(ctx)
	if err != nil {
		s.feed.Error(fmt.Sprintf("Consensus failed: %v", err))
		return legs, err
	}
	s.feed.Info("Consensus completed on all nodes")
	s.refreshLater(s.settle, "consensus", s.RefreshStats, s.RefreshChain, s.RefreshHealth)
	return legs, nil
}
