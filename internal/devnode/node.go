package devnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/types"
)

var (
	ErrMissingFields       = errors.New("missing fields")
	ErrUnknownOrganization = errors.New("invalid organization")
	ErrNothingToMine       = errors.New("no transactions to mine")
	ErrInvalidPeer         = errors.New("invalid node address")
)

const (
	DefaultAutoMineAge      = 2 * time.Minute
	DefaultAutoMineInterval = 30 * time.Second
	DefaultSyncInterval     = time.Minute
	gossipTimeout           = 2 * time.Second
)

// Options configures a Node. Zero values select the defaults.
type Options struct {
	Difficulty       int
	MaxPerBlock      int
	AutoMineAge      time.Duration
	AutoMineInterval time.Duration
	SyncInterval     time.Duration
	Clock            clock.Clock
	Logger           *slog.Logger
	Peers            *nodeapi.Direct // client for gossip and consensus
}

// Node is one development ledger replica. It is safe for concurrent use.
type Node struct {
	store *Store
	opts  Options
	clock clock.Clock
	log   *slog.Logger
	peers *nodeapi.Direct

	mu      sync.Mutex
	chain   []types.Block
	mempool []types.Transaction
	known   map[string]struct{}
}

// New loads the node state from store, creating and persisting a genesis
// block on first start.
func New(ctx context.Context, store *Store, opts Options) (*Node, error) {
	if opts.Difficulty <= 0 {
		opts.Difficulty = DefaultDifficulty
	}
	if opts.MaxPerBlock <= 0 {
		opts.MaxPerBlock = MaxTransactionsPerBlock
	}
	if opts.AutoMineAge <= 0 {
		opts.AutoMineAge = DefaultAutoMineAge
	}
	if opts.AutoMineInterval <= 0 {
		opts.AutoMineInterval = DefaultAutoMineInterval
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}

	n := &Node{
		store: store,
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger,
		peers: opts.Peers,
		known: make(map[string]struct{}),
	}
	if n.clock == nil {
		n.clock = clock.New()
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	n.log = n.log.With("component", "devnode")
	if n.peers == nil {
		n.peers = nodeapi.NewDirect(dispatch.New(nil, dispatch.Options{Timeout: gossipTimeout, Logger: n.log}))
	}

	chain, err := store.LoadChain()
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		genesis, err := newGenesis(ctx, n.clock.Now(), opts.Difficulty)
		if err != nil {
			return nil, fmt.Errorf("mine genesis: %w", err)
		}
		if err := store.CommitBlock(genesis, false); err != nil {
			return nil, err
		}
		chain = []types.Block{genesis}
		n.log.Info("genesis block created", "hash", genesis.Hash)
	}
	n.chain = chain

	if n.mempool, err = store.LoadMempool(); err != nil {
		return nil, err
	}
	peers, err := store.Peers()
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		n.known[p] = struct{}{}
	}
	return n, nil
}

// Status is what GET /health reports.
type Status struct {
	Blocks  int
	Pending int
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{Blocks: len(n.chain), Pending: len(n.mempool)}
}

// Chain returns a copy of the current chain.
func (n *Node) Chain() []types.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.chain)
}

// Submit validates a donation, adds it to the mempool and forwards it to
// every peer. It returns the mempool size after the insert.
func (n *Node) Submit(ctx context.Context, tx nodeapi.NewTransaction) (int, error) {
	if !slices.Contains(Organizations, tx.Recipient) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOrganization, tx.Recipient)
	}
	size, err := n.Receive(ctx, tx)
	if err != nil {
		return 0, err
	}

	for _, peer := range n.Peers() {
		if err := n.peers.ForwardTransaction(ctx, peer, tx); err != nil {
			n.log.Warn("could not forward transaction", "peer", peer, "error", err)
		}
	}
	return size, nil
}

// Receive adds a transaction to the mempool without forwarding it. A full
// mempool is sealed into a block right away.
func (n *Node) Receive(ctx context.Context, in nodeapi.NewTransaction) (int, error) {
	tx := types.Transaction{
		Sender:    in.Sender,
		Recipient: in.Recipient,
		Amount:    in.Amount,
		Timestamp: unixSeconds(n.clock.Now()),
	}

	n.mu.Lock()
	if err := n.store.AddPending(tx); err != nil {
		n.mu.Unlock()
		return 0, err
	}
	n.mempool = append(n.mempool, tx)
	size := len(n.mempool)
	full := size >= n.opts.MaxPerBlock
	n.mu.Unlock()

	n.log.Info("transaction added", "sender", tx.Sender, "recipient", tx.Recipient, "amount", tx.Amount.String())

	if full {
		if _, err := n.Mine(ctx); err != nil && !errors.Is(err, ErrNothingToMine) {
			n.log.Warn("auto-mine on full mempool failed", "error", err)
		}
		size = n.Status().Pending
	}
	return size, nil
}

// Mine seals the whole mempool into a new block and announces it to peers.
func (n *Node) Mine(ctx context.Context) (types.Block, error) {
	n.mu.Lock()
	if len(n.mempool) == 0 {
		n.mu.Unlock()
		return types.Block{}, ErrNothingToMine
	}

	prev := n.chain[len(n.chain)-1]
	b := types.Block{
		Index:        int64(len(n.chain)),
		Timestamp:    unixSeconds(n.clock.Now()),
		PreviousHash: prev.Hash,
		Transactions: slices.Clone(n.mempool),
	}
	start := time.Now()
	if err := mineBlock(ctx, &b, n.opts.Difficulty); err != nil {
		n.mu.Unlock()
		return types.Block{}, err
	}
	if err := n.store.CommitBlock(b, true); err != nil {
		n.mu.Unlock()
		return types.Block{}, err
	}
	n.chain = append(n.chain, b)
	n.mempool = nil
	n.mu.Unlock()

	n.log.Info("block mined", "index", b.Index, "nonce", b.Nonce, "transactions", len(b.Transactions),
		"took", time.Since(start))
	n.announce(ctx)
	return b, nil
}

func (n *Node) announce(ctx context.Context) {
	for _, peer := range n.Peers() {
		if err := n.peers.AnnounceBlock(ctx, peer); err != nil {
			n.log.Warn("could not announce block", "peer", peer, "error", err)
		}
	}
}

// Stats computes the node report over every block after genesis. Only
// transactions to known organizations count.
func (n *Node) Stats() types.NodeReport {
	n.mu.Lock()
	defer n.mu.Unlock()

	report := types.NodeReport{
		TotalDonations:           decimal.Zero,
		TotalBlocks:              len(n.chain),
		PendingTransactions:      len(n.mempool),
		ChainValid:               validChain(n.chain, n.opts.Difficulty),
		DonationsPerOrganization: make(map[string]decimal.Decimal, len(Organizations)),
	}
	for _, org := range Organizations {
		report.DonationsPerOrganization[org] = decimal.Zero
	}
	for _, b := range n.chain {
		if b.IsGenesis() {
			continue
		}
		for _, tx := range b.Transactions {
			sum, ok := report.DonationsPerOrganization[tx.Recipient]
			if !ok {
				continue
			}
			report.DonationsPerOrganization[tx.Recipient] = sum.Add(tx.Amount)
			report.TotalDonations = report.TotalDonations.Add(tx.Amount)
		}
	}
	return report
}

// RegisterPeer adds addr to the peer set and returns the new peer count.
func (n *Node) RegisterPeer(addr string) (int, error) {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	u, err := url.Parse(addr)
	if addr == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeer, addr)
	}
	if err := n.store.AddPeer(addr); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.known[addr] = struct{}{}
	n.log.Info("peer registered", "peer", addr)
	return len(n.known), nil
}

// Peers returns the known peers sorted.
func (n *Node) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.known))
	for p := range n.known {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Consensus replaces the local chain with the longest valid peer chain that
// is longer than it. Unreachable peers are skipped. It reports whether the
// chain changed and the resulting length.
func (n *Node) Consensus(ctx context.Context) (bool, int) {
	var best []types.Block
	for _, peer := range n.Peers() {
		chain, err := n.peers.Chain(ctx, peer)
		if err != nil {
			n.log.Warn("peer unreachable during consensus", "peer", peer, "error", err)
			continue
		}
		if len(chain) > len(best) && validChain(chain, n.opts.Difficulty) {
			best = chain
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(best) <= len(n.chain) {
		return false, len(n.chain)
	}
	if err := n.store.ReplaceChain(best); err != nil {
		n.log.Error("could not persist replacement chain", "error", err)
		return false, len(n.chain)
	}
	n.chain = best
	n.log.Info("chain replaced", "length", len(best))
	return true, len(best)
}

// Run mines stale mempools and syncs with peers until ctx is done.
func (n *Node) Run(ctx context.Context) {
	mine := n.clock.Ticker(n.opts.AutoMineInterval)
	defer mine.Stop()
	syncTick := n.clock.Ticker(n.opts.SyncInterval)
	defer syncTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mine.C:
			n.autoMine(ctx)
		case <-syncTick.C:
			if len(n.Peers()) > 0 {
				n.Consensus(ctx)
			}
		}
	}
}

func (n *Node) autoMine(ctx context.Context) {
	n.mu.Lock()
	stale := false
	if len(n.mempool) > 0 {
		oldest := n.mempool[0].Timestamp
		stale = unixSeconds(n.clock.Now())-oldest > n.opts.AutoMineAge.Seconds()
	}
	n.mu.Unlock()

	if !stale {
		return
	}
	n.log.Info("auto-mining stale transactions")
	if _, err := n.Mine(ctx); err != nil && !errors.Is(err, ErrNothingToMine) {
		n.log.Warn("auto-mine failed", "error", err)
	}
}
