package nodeapi

import (
	"encoding/json"
	"fmt"

	"ledgerwatch.mini/lwm/internal/ledger"
	"ledgerwatch.mini/lwm/internal/types"
)

var (
	blockFields       = []string{"index", "timestamp", "previous_hash", "hash", "nonce", "transactions"}
	transactionFields = []string{"sender", "recipient", "amount"}
)

// DecodeChain decodes the body of GET /chain. Every block must carry all of
// its fields and every transaction its sender, recipient and amount;
// otherwise the error wraps ledger.ErrMalformedSnapshot.
func DecodeChain(raw []byte) ([]types.Block, error) {
	var envelope struct {
		Chain []map[string]json.RawMessage `json:"chain"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSnapshot, err)
	}
	if envelope.Chain == nil {
		return nil, fmt.Errorf("%w: missing chain", ledger.ErrMalformedSnapshot)
	}

	blocks := make([]types.Block, len(envelope.Chain))
	for i, fields := range envelope.Chain {
		if missing := firstMissing(fields, blockFields); missing != "" {
			return nil, fmt.Errorf("%w: block at position %d has no %s", ledger.ErrMalformedSnapshot, i, missing)
		}
		var txs []map[string]json.RawMessage
		if err := json.Unmarshal(fields["transactions"], &txs); err != nil {
			return nil, fmt.Errorf("%w: block at position %d: %v", ledger.ErrMalformedSnapshot, i, err)
		}
		for j, tx := range txs {
			if missing := firstMissing(tx, transactionFields); missing != "" {
				return nil, fmt.Errorf("%w: block at position %d, transaction %d has no %s",
					ledger.ErrMalformedSnapshot, i, j, missing)
			}
		}

		b, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &blocks[i]); err != nil {
			return nil, fmt.Errorf("%w: block at position %d: %v", ledger.ErrMalformedSnapshot, i, err)
		}
	}
	return blocks, nil
}

func firstMissing(fields map[string]json.RawMessage, required []string) string {
	for _, name := range required {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return name
		}
	}
	return ""
}
