// Package session owns the dashboard's current view of the ledger and
// implements the refresh steps the scheduler sequences. A failed step never
// overwrites what is already displayed: the previous value stays until a
// later step succeeds.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/ledger"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/registry"
	"ledgerwatch.mini/lwm/internal/types"
)

// AnonymousSender is used when a donation is submitted without a name.
const AnonymousSender = "Anonymous donor"

// ErrInvalidDonation is returned by Donate for input rejected before any
// node is contacted.
var ErrInvalidDonation = errors.New("invalid donation")

// LedgerClient is the failover-backed node API the session reads through.
type LedgerClient interface {
	Organizations(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (types.NodeReport, error)
	Chain(ctx context.Context) ([]types.Block, error)
	SubmitTransaction(ctx context.Context, tx nodeapi.NewTransaction) (nodeapi.MessageResponse, error)
}

// Prober probes every node.
type Prober interface {
	ProbeAll(ctx context.Context) []types.NodeHealth
}

// AdminRunner executes the multi-node admin commands.
type AdminRunner interface {
	SyncPeers(ctx context.Context) ([]admin.Leg, error)
	TriggerMine(ctx context.Context) (nodeapi.MineResponse, error)
	TriggerConsensus(ctx context.Context) ([]admin.Leg, error)
}

// View is the display-ready state of the dashboard.
type View struct {
	Nodes         []types.Node              `json:"nodes"`
	Preferred     string                    `json:"preferred"`
	Organizations []string                  `json:"organizations"`
	Stats         *types.AggregateStats     `json:"stats"`
	Ranking       []types.OrganizationTotal `json:"ranking"`
	Recent        []types.RecentTransaction `json:"recent_transactions"`
	Chain         []types.BlockSummary      `json:"chain"`
	StepErrors    map[string]string         `json:"step_errors,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// Options configures a Session.
type Options struct {
	RecentWindow int
	SettleDelay  time.Duration // wait before the refresh that follows a write
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	reg    *registry.Registry
	ledger LedgerClient
	prober Prober
	admin  AdminRunner
	feed   *logger.Logger
	clock  clock.Clock
	log    *slog.Logger
	window int
	settle time.Duration

	mu   sync.RWMutex
	view View
	// recent is the feed aggregated by the last stats step, waiting for
	// the recent step that follows it.
	recent     []types.RecentTransaction
	orgsLoaded bool
	updates    chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	timers  map[*clock.Timer]struct{}
}

// New creates a session. Close releases pending follow-up refreshes.
func New(reg *registry.Registry, ledgerClient LedgerClient, prober Prober, runner AdminRunner, feed *logger.Logger, opts Options) *Session {
	s := &Session{
		reg:     reg,
		ledger:  ledgerClient,
		prober:  prober,
		admin:   runner,
		feed:    feed,
		clock:   opts.Clock,
		log:     opts.Logger,
		window:  opts.RecentWindow,
		settle:  opts.SettleDelay,
		updates: make(chan struct{}, 1),
		timers:  make(map[*clock.Timer]struct{}),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "session")
	if s.feed == nil {
		s.feed = logger.New(100).WithSink(s.log)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.view.Nodes = reg.All()
	s.view.StepErrors = map[string]string{}
	return s
}

// Updates returns a channel that receives a value whenever the view changes.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Feed returns the operator status feed.
func (s *Session) Feed() *logger.Logger {
	return s.feed
}

// View returns a copy of the current view.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.view
	v.Preferred = s.reg.Current().Address
	v.Nodes = append([]types.Node(nil), s.view.Nodes...)
	v.Organizations = append([]string(nil), s.view.Organizations...)
	v.Ranking = append([]types.OrganizationTotal(nil), s.view.Ranking...)
	v.Recent = append([]types.RecentTransaction(nil), s.view.Recent...)
	v.Chain = append([]types.BlockSummary(nil), s.view.Chain...)
	if s.view.Stats != nil {
		stats := *s.view.Stats
		stats.DonationsByOrganization = make(map[string]decimal.Decimal, len(s.view.Stats.DonationsByOrganization))
		for k, amount := range s.view.Stats.DonationsByOrganization {
			stats.DonationsByOrganization[k] = amount
		}
		stats.RecentTransactions = append([]types.RecentTransaction(nil), s.view.Stats.RecentTransactions...)
		v.Stats = &stats
	}
	v.StepErrors = make(map[string]string, len(s.view.StepErrors))
	for k, msg := range s.view.StepErrors {
		v.StepErrors[k] = msg
	}
	return v
}

// Close cancels pending follow-up refreshes and waits for running ones.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	for t := range s.timers {
		if t.Stop() {
			s.pending.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()
	s.pending.Wait()
}

// update applies fn to the view under the lock, stamps it and notifies
// subscribers.
func (s *Session) update(fn func(v *View)) {
	s.mu.Lock()
	fn(&s.view)
	s.view.UpdatedAt = s.clock.Now()
	s.mu.Unlock()
	s.notify()
}

// stepDone records the outcome of a refresh step. A failure is reported to
// the feed only when it differs from the step's previous failure so a node
// that stays down does not flood the feed every tick.
func (s *Session) stepDone(step string, err error) error {
	s.mu.Lock()
	prev, had := s.view.StepErrors[step]
	if err == nil {
		delete(s.view.StepErrors, step)
	} else {
		s.view.StepErrors[step] = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err != nil && (!had || prev != err.Error()):
		if errors.Is(err, ledger.ErrMalformedSnapshot) {
			s.feed.Warning(fmt.Sprintf("Ignoring malformed chain snapshot (%s); keeping previous values", step))
		} else {
			s.feed.Warning(fmt.Sprintf("Refreshing %s failed: %v", step, err))
		}
		s.notify()
	case err == nil && had:
		s.feed.Info(fmt.Sprintf("Refreshing %s recovered", step))
		s.notify()
	}
	return err
}
