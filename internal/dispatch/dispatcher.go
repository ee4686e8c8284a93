// Package dispatch sends logical requests to the ledger node set with
// automatic failover.
//
// A request is tried against the registry's preferred node. Any transport
// error, non-2xx status or undecodable body advances the preferred node and
// the request is retried, strictly sequentially, until the AttemptPolicy's
// bound is reached. A call never revisits a node while an untried one
// remains, even when concurrent calls move the preferred index under it. The preferred node is never reset after a success, so
// later requests start from the last node known to work.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ledgerwatch.mini/lwm/internal/metrics"
	"ledgerwatch.mini/lwm/internal/types"
)

const (
	maxBodyBytes    = 16 << 20
	maxErrorBody    = 512
	requestIDHeader = "X-Request-ID"
)

// Nodes is the subset of the node registry the dispatcher needs.
type Nodes interface {
	Preferred() (int, types.Node)
	At(i int) types.Node
	AdvanceFrom(from int) bool
	Len() int
}

// AttemptPolicy bounds the number of attempts of one logical request.
type AttemptPolicy interface {
	MaxAttempts(nodes int) int
}

// PerNode tries every node at most once per logical request.
type PerNode struct{}

// MaxAttempts returns the node count.
func (PerNode) MaxAttempts(nodes int) int { return nodes }

// Fixed tries exactly n times regardless of the node count. Values below one
// mean one attempt.
type Fixed int

// MaxAttempts returns n.
func (f Fixed) MaxAttempts(int) int {
	if f < 1 {
		return 1
	}
	return int(f)
}

// Options configures a Dispatcher.
type Options struct {
	Client  *http.Client
	Timeout time.Duration // per attempt; 0 leaves it to the client
	Policy  AttemptPolicy
	Rate    float64 // outbound requests per second; 0 disables the limiter
	Burst   int
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Dispatcher issues requests against a node set. It is safe for concurrent
// use; concurrent failures against the same node advance the preferred index
// only once.
type Dispatcher struct {
	nodes   Nodes
	client  *http.Client
	timeout time.Duration
	policy  AttemptPolicy
	limiter *rate.Limiter
	log     *slog.Logger
	metrics *metrics.Collectors
}

// New creates a dispatcher over nodes.
func New(nodes Nodes, opts Options) *Dispatcher {
	d := &Dispatcher{
		nodes:   nodes,
		client:  opts.Client,
		timeout: opts.Timeout,
		policy:  opts.Policy,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.policy == nil {
		d.policy = PerNode{}
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "dispatch")
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return d
}

// DecodeFunc validates and consumes a successful response body. An error is
// treated like a transport failure and triggers failover.
type DecodeFunc func(raw json.RawMessage) error

// Request performs a logical request and returns the raw JSON body of the
// first successful attempt.
func (d *Dispatcher) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var out json.RawMessage
	err := d.Do(ctx, method, path, body, func(raw json.RawMessage) error {
		out = raw
		return nil
	})
	return out, err
}

// Do performs a logical request, handing each 2xx body to decode. A decode
// error counts as a failed attempt.
func (d *Dispatcher) Do(ctx context.Context, method, path string, body any, decode DecodeFunc) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	n := d.nodes.Len()
	limit := d.policy.MaxAttempts(n)
	exhausted := &ExhaustedError{Method: method, Path: path}
	tried := make(map[int]bool, n)

	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		idx, node := d.nodes.Preferred()
		// Another call may have moved the shared index back onto a node
		// this call already tried.
		if tried[idx] && len(tried) < n {
			idx = nextUntried(idx, tried, n)
			node = d.nodes.At(idx)
		}
		tried[idx] = true

		aerr := d.attempt(ctx, node.Address, method, path, payload, decode)
		if aerr == nil {
			d.metrics.Attempt(node.Address, "ok")
			return nil
		}
		aerr.Attempt = attempt
		exhausted.Attempts = append(exhausted.Attempts, aerr)
		d.metrics.Attempt(node.Address, string(aerr.Kind))

		if d.nodes.AdvanceFrom(idx) {
			d.metrics.Failover()
		}
		d.log.Warn("node request failed",
			"node", node.Address,
			"method", method,
			"path", path,
			"attempt", attempt,
			"max_attempts", limit,
			"error", aerr.Error())
	}

	d.metrics.Exhausted()
	return exhausted
}

func nextUntried(from int, tried map[int]bool, n int) int {
	for step := 1; step < n; step++ {
		if i := (from + step) % n; !tried[i] {
			return i
		}
	}
	return from
}

// Send performs a single request against one node without failover. It is
// used for operations that address a specific node.
func (d *Dispatcher) Send(ctx context.Context, baseURL, method, path string, body any, decode DecodeFunc) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}
	if aerr := d.attempt(ctx, baseURL, method, path, payload, decode); aerr != nil {
		aerr.Attempt = 1
		return aerr
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, baseURL, method, path string, payload []byte, decode DecodeFunc) *AttemptError {
	fail := func(kind FailureKind, err error) *AttemptError {
		return &AttemptError{Node: baseURL, Kind: kind, Err: err}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fail(KindTransport, err)
		}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, reader)
	if err != nil {
		return fail(KindTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(KindTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(KindTransport, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &AttemptError{
			Node:       baseURL,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       snippet,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	if !json.Valid(raw) {
		return fail(KindDecode, errors.New("response is not valid JSON"))
	}
	if decode != nil {
		if err := decode(json.RawMessage(raw)); err != nil {
			return fail(KindDecode, err)
		}
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return b, nil
}

// Call performs a logical request and decodes the first successful body into
// a fresh T. Bodies that do not decode into T trigger failover.
func Call[T any](ctx context.Context, d *Dispatcher, method, path string, body any) (T, error) {
	var out T
	err := d.Do(ctx, method, path, body, func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
