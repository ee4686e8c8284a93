// Package types defines the core domain models for ledgerwatch mini (lwm).
// It contains the node model for the fixed replica set, the ledger wire
// models (blocks, transactions, node reports) and the derived aggregates
// that the dashboard renders.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger nodes sum amounts as JSON numbers, so decimals go on the wire
// unquoted.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Version is the current version of lwm
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Node is one configured ledger replica. Address and PreferredOrder are fixed
// at configuration time.
type Node struct {
	Address        string     `json:"address"`         // Base URI, e.g. http://192.168.178.95:5002
	PreferredOrder int        `json:"preferred_order"` // Position in the configured node list
	Health         NodeHealth `json:"health"`
}

// Transaction is a single donation as stored in a block or the mempool.
type Transaction struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"` // Organization identifier
	Amount    decimal.Decimal `json:"amount"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// Block is an immutable snapshot of one sealed ledger block.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    float64       `json:"timestamp"` // Unix seconds, fractional
	PreviousHash string        `json:"previous_hash"`
	Hash         string        `json:"hash"`
	Nonce        int64         `json:"nonce"`
	Transactions []Transaction `json:"transactions"`
}

// Time converts the block timestamp to a time.Time.
func (b Block) Time() time.Time {
	sec := int64(b.Timestamp)
	nsec := int64((b.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// IsGenesis reports whether b is the first block of a chain.
func (b Block) IsGenesis() bool {
	return b.Index == 0
}

// NodeReport carries the values a node computes about its own chain. They are
// passed through to AggregateStats unchanged.
type NodeReport struct {
	TotalDonations           decimal.Decimal            `json:"total_donations"`
	TotalBlocks              int                        `json:"total_blocks"`
	PendingTransactions      int                        `json:"pending_transactions"`
	ChainValid               bool                       `json:"chain_valid"`
	DonationsPerOrganization map[string]decimal.Decimal `json:"donations_per_organization"`
}

// ChainSnapshot is the full chain as returned by one node at one point in
// time, together with that node's report.
type ChainSnapshot struct {
	Blocks []Block    `json:"chain"`
	Report NodeReport `json:"report"`
}

// RecentTransaction is a transaction tagged with the index of the block it
// was sealed in.
type RecentTransaction struct {
	Transaction
	BlockIndex int64 `json:"block_index"`
}

// AggregateStats is recomputed from a ChainSnapshot on every refresh.
type AggregateStats struct {
	TotalDonations          decimal.Decimal            `json:"total_donations"`
	TotalBlocks             int                        `json:"total_blocks"`
	PendingTransactions     int                        `json:"pending_transactions"`
	ChainValid              bool                       `json:"chain_valid"`
	DonationsByOrganization map[string]decimal.Decimal `json:"donations_by_organization"`
	RecentTransactions      []RecentTransaction        `json:"recent_transactions"`
}

// OrganizationTotal is one display row of the per-organization ranking.
type OrganizationTotal struct {
	Organization string          `json:"organization"`
	Amount       decimal.Decimal `json:"amount"`
}

// BlockSummary is the display form of a block in the chain view.
type BlockSummary struct {
	Index            int64     `json:"index"`
	Time             time.Time `json:"time"`
	Hash             string    `json:"hash"`
	PreviousHash     string    `json:"previous_hash"`
	TransactionCount int       `json:"transaction_count"`
	Nonce            int64     `json:"nonce"`
}
