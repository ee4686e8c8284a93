// Package health probes the liveness and block height of every configured
// ledger node.
//
// Probes are independent of the failover dispatcher's preferred node: a node
// reported offline here is not skipped by the dispatcher, and the dispatcher
// switching nodes does not change what is probed.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/metrics"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/types"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Checker is the node call a probe makes.
type Checker interface {
	Health(ctx context.Context, node string) (nodeapi.HealthResponse, error)
}

// Prober checks every node in parallel.
type Prober struct {
	nodes   []string
	checker Checker
	timeout time.Duration
	clock   clock.Clock
	metrics *metrics.Collectors
}

// Options configures a Prober.
type Options struct {
	Timeout time.Duration
	Clock   clock.Clock
	Metrics *metrics.Collectors
}

// NewProber builds a prober over nodes in configured order.
func NewProber(nodes []string, checker Checker, opts Options) *Prober {
	p := &Prober{
		nodes:   append([]string(nil), nodes...),
		checker: checker,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	return p
}

// ProbeAll probes every node concurrently and returns one result per node in
// configured order. A failing or slow node never delays the verdict for the
// others beyond its own timeout.
func (p *Prober) ProbeAll(ctx context.Context) []types.NodeHealth {
	results := make([]types.NodeHealth, len(p.nodes))

	var wg sync.WaitGroup
	for i, node := range p.nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			results[i] = p.Probe(ctx, node)
		}(i, node)
	}
	wg.Wait()

	return results
}

// Probe checks a single node under its own timeout.
func (p *Prober) Probe(ctx context.Context, node string) types.NodeHealth {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.clock.Now()
	resp, err := p.checker.Health(ctx, node)
	h := types.NodeHealth{
		Address:   node,
		Latency:   p.clock.Since(start),
		CheckedAt: p.clock.Now(),
	}

	if err != nil {
		h.Status = classify(err)
		h.Error = err.Error()
		p.metrics.Probe(node, false, 0)
		return h
	}

	height := resp.Blocks
	h.Reachable = true
	h.BlockHeight = &height
	h.Status = types.HealthOnline
	p.metrics.Probe(node, true, height)
	return h
}

// classify separates nodes that answered badly from nodes that did not
// answer at all.
func classify(err error) types.HealthStatus {
	var attempt *dispatch.AttemptError
	if errors.As(err, &attempt) && (attempt.Kind == dispatch.KindStatus || attempt.Kind == dispatch.KindDecode) {
		return types.HealthDegraded
	}
	return types.HealthOffline
}
