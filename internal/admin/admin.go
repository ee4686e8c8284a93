// Package admin runs the operator commands that address several nodes at
// once: pairwise peer registration, a mining trigger and a consensus
// trigger.
//
// Sync and consensus fan out to specific nodes and are judged by a named
// Policy over all legs. Mining is a single request through the failover
// dispatcher.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/metrics"
	"ledgerwatch.mini/lwm/internal/nodeapi"
)

var (
	// ErrPartialAdminFailure means at least one leg of a fan-out command
	// failed and the command's policy was not met.
	ErrPartialAdminFailure = errors.New("admin command failed on one or more nodes")

	// ErrEmptyMinePool means no node had pending transactions to seal. It is
	// an expected outcome.
	ErrEmptyMinePool = errors.New("no pending transactions to mine")
)

// Policy decides whether a fan-out succeeded.
type Policy int

const (
	// AllOf succeeds only if every leg succeeded.
	AllOf Policy = iota
	// AnyOf succeeds if at least one leg succeeded.
	AnyOf
)

func (p Policy) String() string {
	switch p {
	case AllOf:
		return "all-of"
	case AnyOf:
		return "any-of"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Satisfied applies the policy to the leg results. An empty fan-out is
// satisfied.
func (p Policy) Satisfied(legs []Leg) bool {
	if len(legs) == 0 {
		return true
	}
	ok := 0
	for _, l := range legs {
		if l.Err == nil {
			ok++
		}
	}
	if p == AnyOf {
		return ok > 0
	}
	return ok == len(legs)
}

// Leg is the outcome of one call of a fan-out command. Peer is set for peer
// registration legs.
type Leg struct {
	Node    string `json:"node"`
	Peer    string `json:"peer,omitempty"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// OK reports whether the leg succeeded.
func (l Leg) OK() bool { return l.Err == nil }

// FanoutError reports a fan-out command whose policy was not met. It matches
// ErrPartialAdminFailure and unwraps to the failed legs' errors.
type FanoutError struct {
	Command string
	Policy  Policy
	Legs    []Leg
}

func (e *FanoutError) Error() string {
	var failed []string
	for _, l := range e.Legs {
		if l.Err == nil {
			continue
		}
		target := l.Node
		if l.Peer != "" {
			target = l.Node + " -> " + l.Peer
		}
		failed = append(failed, fmt.Sprintf("%s: %v", target, l.Err))
	}
	return fmt.Sprintf("%s: %d of %d legs failed (%s)", e.Command, len(failed), len(e.Legs), strings.Join(failed, "; "))
}

// Is reports ErrPartialAdminFailure.
func (e *FanoutError) Is(target error) bool {
	return target == ErrPartialAdminFailure
}

// Unwrap returns the errors of the failed legs.
func (e *FanoutError) Unwrap() []error {
	var out []error
	for _, l := range e.Legs {
		if l.Err != nil {
			out = append(out, l.Err)
		}
	}
	return out
}

// Direct is the set of single-node calls the runner fans out.
type Direct interface {
	RegisterPeer(ctx context.Context, node, peer string) error
	Consensus(ctx context.Context, node string) (nodeapi.MessageResponse, error)
}

// Miner seals a block through the failover dispatcher.
type Miner interface {
	Mine(ctx context.Context) (nodeapi.MineResponse, error)
}

// Options configures a Runner.
type Options struct {
	SyncPolicy      Policy
	ConsensusPolicy Policy
	Logger          *slog.Logger
	Metrics         *metrics.Collectors
}

// Runner executes admin commands against a fixed node set.
type Runner struct {
	nodes     []string
	direct    Direct
	miner     Miner
	syncP     Policy
	consensus Policy
	log       *slog.Logger
	metrics   *metrics.Collectors
}

// NewRunner creates a runner. Both policies default to AllOf.
func NewRunner(nodes []string, direct Direct, miner Miner, opts Options) *Runner {
	r := &Runner{
		nodes:     append([]string(nil), nodes...),
		direct:    direct,
		miner:     miner,
		syncP:     opts.SyncPolicy,
		consensus: opts.ConsensusPolicy,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "admin")
	return r
}

// SyncPeers asks every node to register every other node as a peer. Each
// ordered pair is its own leg, so with two nodes both A->B and B->A are
// attempted regardless of the other's outcome.
func (r *Runner) SyncPeers(ctx context.Context) ([]Leg, error) {
	var legs []Leg
	for _, from := range r.nodes {
		for _, to := range r.nodes {
			if from != to {
				legs = append(legs, Leg{Node: from, Peer: to})
			}
		}
	}

	run(legs, func(l *Leg) {
		l.Err = r.direct.RegisterPeer(ctx, l.Node, l.Peer)
	})

	err := r.judge("sync", r.syncP, legs)
	r.metrics.Admin("sync", err)
	return legs, err
}

// TriggerMine asks the preferred node to seal its pending transactions,
// failing over like any other request. When every node that answered said
// 400 the error wraps ErrEmptyMinePool; unreachable nodes do not count.
func (r *Runner) TriggerMine(ctx context.Context) (nodeapi.MineResponse, error) {
	resp, err := r.miner.Mine(ctx)
	if err != nil {
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) && exhausted.AnsweredOnlyWith(http.StatusBadRequest) {
			err = fmt.Errorf("%w: %w", ErrEmptyMinePool, err)
			r.log.Info("mine skipped", "reason", "empty mempool")
		} else {
			r.log.Warn("mine failed", "error", err)
		}
	} else {
		r.log.Info("block mined", "index", resp.Block.Index, "transactions", len(resp.Block.Transactions))
	}
	r.metrics.Admin("mine", err)
	return resp, err
}

// TriggerConsensus asks every node in parallel to reconcile its chain
// against its peers.
func (r *Runner) TriggerConsensus(ctx context.Context) ([]Leg, error) {
	legs := make([]Leg, len(r.nodes))
	for i, n := range r.nodes {
		legs[i] = Leg{Node: n}
	}

	run(legs, func(l *Leg) {
		resp, err := r.direct.Consensus(ctx, l.Node)
		l.Message, l.Err = resp.Message, err
	})

	err := r.judge("consensus", r.consensus, legs)
	r.metrics.Admin("consensus", err)
	return legs, err
}

func (r *Runner) judge(command string, p Policy, legs []Leg) error {
	for _, l := range legs {
		if l.Err != nil {
			r.log.Warn("admin leg failed", "command", command, "node", l.Node, "peer", l.Peer, "error", l.Err)
		}
	}
	if p.Satisfied(legs) {
		return nil
	}
	return &FanoutError{Command: command, Policy: p, Legs: legs}
}

// run executes fn for every leg concurrently and waits for all of them.
func run(legs []Leg, fn func(*Leg)) {
	var wg sync.WaitGroup
	for i := range legs {
		wg.Add(1)
		go func(l *Leg) {
			defer wg.Done()
			fn(l)
		}(&legs[i])
	}
	wg.Wait()
}
