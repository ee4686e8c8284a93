package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/types"
)

// RankOrganizations orders per-organization totals for display: highest
// amount first, ties by name. Organizations in known that received nothing
// are listed with zero.
func RankOrganizations(byOrg map[string]decimal.Decimal, known []string) []types.OrganizationTotal {
	merged := make(map[string]decimal.Decimal, len(byOrg)+len(known))
	for _, org := range known {
		merged[org] = decimal.Zero
	}
	for org, amount := range byOrg {
		merged[org] = amount
	}

	out := make([]types.OrganizationTotal, 0, len(merged))
	for org, amount := range merged {
		out = append(out, types.OrganizationTotal{Organization: org, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Organization < out[j].Organization
	})
	return out
}

// ChainView summarizes blocks newest first.
func ChainView(blocks []types.Block) []types.BlockSummary {
	out := make([]types.BlockSummary, len(blocks))
	for i, b := range blocks {
		out[len(blocks)-1-i] = types.BlockSummary{
			Index:            b.Index,
			Time:             b.Time(),
			Hash:             b.Hash,
			PreviousHash:     b.PreviousHash,
			TransactionCount: len(b.Transactions),
			Nonce:            b.Nonce,
		}
	}
	return out
}
