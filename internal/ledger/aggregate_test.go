package ledger

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerwatch.mini/lwm/internal/types"
)

func tx(sender, recipient, amount string) types.Transaction {
	return types.Transaction{Sender: sender, Recipient: recipient, Amount: decimal.RequireFromString(amount)}
}

func genesis() types.Block {
	return types.Block{
		Index:        0,
		PreviousHash: "0",
		Hash:         "0000genesis",
		Transactions: []types.Transaction{tx("System", "Genesis", "0")},
	}
}

// chain builds [genesis, B1(txs[0]...), B2(...), ...] with linked hashes.
func chain(blocks ...[]types.Transaction) []types.Block {
	out := []types.Block{genesis()}
	for i, txs := range blocks {
		out = append(out, types.Block{
			Index:        int64(i + 1),
			Timestamp:    float64(1731500000 + i),
			PreviousHash: out[i].Hash,
			Hash:         fmt.Sprintf("0000block%d", i+1),
			Nonce:        int64(100 + i),
			Transactions: txs,
		})
	}
	return out
}

func TestAggregateTotalsExcludeGenesis(t *testing.T) {
	blocks := chain(
		[]types.Transaction{tx("Alice", "WWF", "50"), tx("Bob", "UNICEF", "30.50")},
		[]types.Transaction{tx("Carol", "WWF", "19.50")},
	)
	blocks[0].Transactions = append(blocks[0].Transactions, tx("System", "WWF", "1000"))

	stats, err := Aggregate(types.ChainSnapshot{Blocks: blocks}, DefaultRecentWindow)
	require.NoError(t, err)

	assert.True(t, stats.TotalDonations.Equal(decimal.NewFromInt(100)), "got %s", stats.TotalDonations)
	assert.True(t, stats.DonationsByOrganization["WWF"].Equal(decimal.NewFromInt(70)))
	assert.True(t, stats.DonationsByOrganization["UNICEF"].Equal(decimal.RequireFromString("30.5")))
	assert.NotContains(t, stats.DonationsByOrganization, "Genesis")

	sum := decimal.Zero
	for _, amount := range stats.DonationsByOrganization {
		sum = sum.Add(amount)
	}
	assert.True(t, sum.Equal(stats.TotalDonations), "grouping must not change the total")
}

func TestRecentOrderIsGlobalReverse(t *testing.T) {
	blocks := chain(
		[]types.Transaction{tx("a", "WWF", "1"), tx("b", "WWF", "2")},
		[]types.Transaction{tx("c", "WWF", "3")},
	)

	stats, err := Aggregate(types.ChainSnapshot{Blocks: blocks}, DefaultRecentWindow)
	require.NoError(t, err)

	var senders []string
	var origins []int64
	for _, r := range stats.RecentTransactions {
		senders = append(senders, r.Sender)
		origins = append(origins, r.BlockIndex)
	}
	assert.Equal(t, []string{"c", "b", "a"}, senders)
	assert.Equal(t, []int64{2, 1, 1}, origins)
}

func TestRecentWindowBounds(t *testing.T) {
	var blocks [][]types.Transaction
	for i := 0; i < 4; i++ {
		blocks = append(blocks, []types.Transaction{
			tx(fmt.Sprintf("s%d-0", i), "WWF", "1"),
			tx(fmt.Sprintf("s%d-1", i), "WWF", "1"),
			tx(fmt.Sprintf("s%d-2", i), "WWF", "1"),
		})
	}
	snap := types.ChainSnapshot{Blocks: chain(blocks...)}

	stats, err := Aggregate(snap, DefaultRecentWindow)
	require.NoError(t, err)
	require.Len(t, stats.RecentTransactions, 10)
	assert.Equal(t, "s3-2", stats.RecentTransactions[0].Sender)
	assert.Equal(t, "s1-0", stats.RecentTransactions[9].Sender)

	stats, err = Aggregate(snap, 50)
	require.NoError(t, err)
	assert.Len(t, stats.RecentTransactions, 12, "fewer than window means the exact count")

	stats, err = Aggregate(snap, -3)
	require.NoError(t, err)
	assert.Empty(t, stats.RecentTransactions)
}

func TestAggregatePassesThroughNodeReport(t *testing.T) {
	snap := types.ChainSnapshot{
		Blocks: chain([]types.Transaction{tx("a", "WWF", "5")}),
		Report: types.NodeReport{
			TotalDonations:      decimal.NewFromInt(999),
			TotalBlocks:         7,
			PendingTransactions: 3,
			ChainValid:          false,
		},
	}

	stats, err := Aggregate(snap, DefaultRecentWindow)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalBlocks)
	assert.Equal(t, 3, stats.PendingTransactions)
	assert.False(t, stats.ChainValid)
	assert.True(t, stats.TotalDonations.Equal(decimal.NewFromInt(5)), "totals are computed from the chain")
}

func TestAggregateIsIdempotent(t *testing.T) {
	snap := types.ChainSnapshot{
		Blocks: chain(
			[]types.Transaction{tx("a", "WWF", "1.10"), tx("b", "UNICEF", "2.20")},
			[]types.Transaction{tx("c", "WWF", "3.30")},
		),
		Report: types.NodeReport{TotalBlocks: 3, ChainValid: true},
	}

	first, err := Aggregate(snap, DefaultRecentWindow)
	require.NoError(t, err)
	second, err := Aggregate(snap, DefaultRecentWindow)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAggregateEmptyChain(t *testing.T) {
	stats, err := Aggregate(types.ChainSnapshot{}, DefaultRecentWindow)
	require.NoError(t, err)
	assert.True(t, stats.TotalDonations.IsZero())
	assert.Empty(t, stats.DonationsByOrganization)
	assert.Empty(t, stats.RecentTransactions)

	stats, err = Aggregate(types.ChainSnapshot{Blocks: chain()}, DefaultRecentWindow)
	require.NoError(t, err)
	assert.Empty(t, stats.RecentTransactions, "genesis alone yields no recent transactions")
}

func TestAggregateRejectsMalformedSnapshots(t *testing.T) {
	gap := chain(
		[]types.Transaction{tx("a", "WWF", "1")},
		[]types.Transaction{tx("b", "WWF", "1")},
		[]types.Transaction{tx("c", "WWF", "1")},
	)
	gap = append(gap[:2], gap[3])
	require.Equal(t, []int64{0, 1, 3}, []int64{gap[0].Index, gap[1].Index, gap[2].Index})

	noHash := chain([]types.Transaction{tx("a", "WWF", "1")})
	noHash[1].Hash = ""

	noRecipient := chain([]types.Transaction{tx("a", "", "1")})

	reversed := chain([]types.Transaction{tx("a", "WWF", "1")})
	reversed[0], reversed[1] = reversed[1], reversed[0]

	for name, blocks := range map[string][]types.Block{
		"index gap":         gap,
		"missing hash":      noHash,
		"missing recipient": noRecipient,
		"non-monotonic":     reversed,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Aggregate(types.ChainSnapshot{Blocks: blocks}, DefaultRecentWindow)
			require.ErrorIs(t, err, ErrMalformedSnapshot)
		})
	}
}
