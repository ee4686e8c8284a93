// Package ledger turns a raw chain snapshot into the derived, display-ready
// view: donation totals, per-organization sums and the recent transaction
// feed. Everything is recomputed from scratch on every call; nothing is
// carried over between snapshots.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/types"
)

// DefaultRecentWindow is the number of transactions kept in the recent feed.
const DefaultRecentWindow = 10

// ErrMalformedSnapshot means the snapshot cannot be aggregated. Callers keep
// their previous stats.
var ErrMalformedSnapshot = errors.New("malformed chain snapshot")

// Aggregate derives AggregateStats from snap. Genesis transactions are
// excluded from every total and from the recent feed. ChainValid,
// TotalBlocks and PendingTransactions are taken from the node's report as-is.
// A negative window is treated as zero.
func Aggregate(snap types.ChainSnapshot, recentWindow int) (types.AggregateStats, error) {
	if err := Validate(snap.Blocks); err != nil {
		return types.AggregateStats{}, err
	}
	if recentWindow < 0 {
		recentWindow = 0
	}

	total := decimal.Zero
	byOrg := make(map[string]decimal.Decimal)
	var flat []types.RecentTransaction

	for _, b := range snap.Blocks {
		if b.IsGenesis() {
			continue
		}
		for _, tx := range b.Transactions {
			total = total.Add(tx.Amount)
			byOrg[tx.Recipient] = byOrg[tx.Recipient].Add(tx.Amount)
			flat = append(flat, types.RecentTransaction{Transaction: tx, BlockIndex: b.Index})
		}
	}

	return types.AggregateStats{
		TotalDonations:          total,
		TotalBlocks:             snap.Report.TotalBlocks,
		PendingTransactions:     snap.Report.PendingTransactions,
		ChainValid:              snap.Report.ChainValid,
		DonationsByOrganization: byOrg,
		RecentTransactions:      Recent(flat, recentWindow),
	}, nil
}

// Recent reverses the block-ordered list as a whole and keeps the first
// window entries. The input is not modified.
func Recent(flat []types.RecentTransaction, window int) []types.RecentTransaction {
	n := len(flat)
	if window < n {
		n = window
	}
	if n < 0 {
		n = 0
	}
	out := make([]types.RecentTransaction, n)
	for i := 0; i < n; i++ {
		out[i] = flat[len(flat)-1-i]
	}
	return out
}

// Validate checks that block indices run 0..n-1 without gaps and that every
// non-genesis block and transaction carries its identifying fields. An empty
// chain is valid.
func Validate(blocks []types.Block) error {
	for i, b := range blocks {
		if b.Index != int64(i) {
			return fmt.Errorf("%w: block at position %d has index %d", ErrMalformedSnapshot, i, b.Index)
		}
		if b.IsGenesis() {
			continue
		}
		if b.Hash == "" || b.PreviousHash == "" {
			return fmt.Errorf("%w: block %d has no hash link", ErrMalformedSnapshot, b.Index)
		}
		for j, tx := range b.Transactions {
			if tx.Recipient == "" {
				return fmt.Errorf("%w: block %d transaction %d has no recipient", ErrMalformedSnapshot, b.Index, j)
			}
		}
	}
	return nil
}
