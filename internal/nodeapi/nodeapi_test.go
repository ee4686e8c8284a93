package nodeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/ledger"
	"ledgerwatch.mini/lwm/internal/registry"
)

const validChain = `{"chain": [
	{"index": 0, "timestamp": 1731500000, "previous_hash": "0", "hash": "00aa", "nonce": 12,
	 "transactions": [{"sender": "System", "recipient": "Genesis", "amount": 0}]},
	{"index": 1, "timestamp": 1731500060.5, "previous_hash": "00aa", "hash": "00bb", "nonce": 99,
	 "transactions": [{"sender": "Alice", "recipient": "WWF", "amount": "12.50"}]}
], "length": 2}`

func TestDecodeChain(t *testing.T) {
	blocks, err := DecodeChain([]byte(validChain))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "00aa", blocks[1].PreviousHash)
	assert.True(t, blocks[1].Transactions[0].Amount.Equal(decimal.RequireFromString("12.5")))

	cases := map[string]string{
		"not json":           `{"chain": [`,
		"no chain key":       `{"length": 0}`,
		"block without hash": `{"chain": [{"index": 0, "timestamp": 1, "previous_hash": "0", "nonce": 0, "transactions": []}]}`,
		"null nonce":         `{"chain": [{"index": 0, "timestamp": 1, "previous_hash": "0", "hash": "x", "nonce": null, "transactions": []}]}`,
		"tx without amount":  `{"chain": [{"index": 0, "timestamp": 1, "previous_hash": "0", "hash": "x", "nonce": 0, "transactions": [{"sender": "a", "recipient": "b"}]}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeChain([]byte(raw))
			assert.ErrorIs(t, err, ledger.ErrMalformedSnapshot)
		})
	}

	empty, err := DecodeChain([]byte(`{"chain": []}`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func newDispatcher(nodes ...string) (*dispatch.Dispatcher, *registry.Registry) {
	reg := registry.New(nodes)
	return dispatch.New(reg, dispatch.Options{}), reg
}

func TestLedgerChainFailsOverOnMalformedBody(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chain": [{"index": 0}]}`))
	}))
	defer broken.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validChain))
	}))
	defer good.Close()

	d, reg := newDispatcher(broken.URL, good.URL)
	blocks, err := NewLedger(d).Chain(context.Background())
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
	assert.Equal(t, good.URL, reg.Current().Address)
}

func TestLedgerStatsAndOrganizations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stats":
			w.Write([]byte(`{"total_donations": 80, "total_blocks": 3, "pending_transactions": 1,
				"chain_valid": true, "donations_per_organization": {"WWF": 30, "UNICEF": "50"}}`))
		case "/organizations":
			w.Write([]byte(`{"organizations": ["WWF", "UNICEF"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d, _ := newDispatcher(srv.URL)
	l := NewLedger(d)

	report, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, report.TotalDonations.Equal(decimal.NewFromInt(80)))
	assert.True(t, report.DonationsPerOrganization["UNICEF"].Equal(decimal.NewFromInt(50)))
	assert.True(t, report.ChainValid)

	orgs, err := l.Organizations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WWF", "UNICEF"}, orgs)
}

type recorded struct {
	method, path string
	body         map[string]any
}

func recordingNode(t *testing.T) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path}
		json.NewDecoder(r.Body).Decode(&rec.body)
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()

		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status": "running", "blocks": 4, "pending_transactions": 2}`))
		case "/consensus":
			w.Write([]byte(`{"message": "Our chain is authoritative", "length": 4}`))
		case "/nodes/list":
			w.Write([]byte(`{"peers": ["http://b:5002"], "count": 1}`))
		default:
			w.Write([]byte(`{"message": "ok"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), seen...)
	}
}

func TestDirectCalls(t *testing.T) {
	srv, seen := recordingNode(t)
	// Direct ignores the registry entirely.
	d, _ := newDispatcher("http://unused:1")
	c := NewDirect(d)
	ctx := context.Background()

	h, err := c.Health(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Blocks)

	require.NoError(t, c.RegisterPeer(ctx, srv.URL, "http://b:5002"))

	resp, err := c.Consensus(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Length)

	peers, err := c.Peers(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://b:5002"}, peers)

	tx := NewTransaction{Sender: "Alice", Recipient: "WWF", Amount: decimal.RequireFromString("7.25")}
	require.NoError(t, c.ForwardTransaction(ctx, srv.URL, tx))
	require.NoError(t, c.AnnounceBlock(ctx, srv.URL))

	calls := seen()
	require.Len(t, calls, 6)
	assert.Equal(t, "/nodes/register", calls[1].path)
	assert.Equal(t, "http://b:5002", calls[1].body["node_address"])
	assert.Equal(t, http.MethodPost, calls[4].method)
	assert.Equal(t, "/transactions/receive", calls[4].path)
	assert.Equal(t, 7.25, calls[4].body["amount"])
	assert.Equal(t, "/blocks/receive", calls[5].path)
}

func TestSubmitTransactionSendsNumericAmount(t *testing.T) {
	srv, seen := recordingNode(t)
	d, _ := newDispatcher(srv.URL)

	_, err := NewLedger(d).SubmitTransaction(context.Background(), NewTransaction{
		Sender:    "a",
		Recipient: "Rotes Kreuz",
		Amount:    decimal.RequireFromString("10.5"),
	})
	require.NoError(t, err)

	calls := seen()
	require.Len(t, calls, 1)
	assert.Equal(t, "/transactions/new", calls[0].path)
	require.IsType(t, float64(0), calls[0].body["amount"], "nodes add amounts up as numbers")
	assert.Equal(t, 10.5, calls[0].body["amount"])
}
