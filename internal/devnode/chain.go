// Package devnode is a development ledger node. It serves the same HTTP API
// as the production ledger nodes so the dashboard, the CLI and the
// integration tests have something real to talk to: a fixed organization
// list, a mempool, SHA-256 proof-of-work blocks, transaction and block gossip
// and longest-valid-chain consensus, persisted in SQLite.
package devnode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"ledgerwatch.mini/lwm/internal/types"
)

// Organizations are the only accepted donation recipients.
var Organizations = []string{
	"Rotes Kreuz",
	"WWF",
	"Ärzte ohne Grenzen",
	"UNICEF",
	"Greenpeace",
}

const (
	DefaultDifficulty       = 4
	MaxTransactionsPerBlock = 5
)

// hashInput is the canonical form a block hash covers. Field order is
// alphabetical so the encoding is stable.
type hashInput struct {
	Index        int64               `json:"index"`
	Nonce        int64               `json:"nonce"`
	PreviousHash string              `json:"previous_hash"`
	Timestamp    float64             `json:"timestamp"`
	Transactions []types.Transaction `json:"transactions"`
}

// HashBlock returns the hex SHA-256 of b's canonical encoding. The Hash
// field itself is not covered.
func HashBlock(b types.Block) string {
	data, _ := json.Marshal(hashInput{
		Index:        b.Index,
		Nonce:        b.Nonce,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// mineBlock searches nonces until b's hash starts with difficulty zeros.
func mineBlock(ctx context.Context, b *types.Block, difficulty int) error {
	target := strings.Repeat("0", difficulty)
	b.Hash = HashBlock(*b)
	for !strings.HasPrefix(b.Hash, target) {
		if b.Nonce%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.Nonce++
		b.Hash = HashBlock(*b)
	}
	return nil
}

// validChain checks every block after genesis: stored hash matches
// contents, link to the previous block and proof-of-work.
func validChain(blocks []types.Block, difficulty int) bool {
	target := strings.Repeat("0", difficulty)
	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]
		if cur.Hash != HashBlock(cur) {
			return false
		}
		if cur.PreviousHash != prev.Hash {
			return false
		}
		if !strings.HasPrefix(cur.Hash, target) {
			return false
		}
	}
	return true
}

func newGenesis(ctx context.Context, now time.Time, difficulty int) (types.Block, error) {
	ts := unixSeconds(now)
	b := types.Block{
		Index:        0,
		Timestamp:    ts,
		PreviousHash: "0",
		Transactions: []types.Transaction{{Sender: "System", Recipient: "Genesis", Timestamp: ts}},
	}
	err := mineBlock(ctx, &b, difficulty)
	return b, err
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
