// Package scheduler drives the periodic refresh cycle of the dashboard.
//
// Start runs a sequential bootstrap (organizations, health, stats, recent
// transactions, chain view) and then arms a ticker. Every tick refreshes
// health, stats and recent transactions, in that order; the chain view is
// never part of a tick. Ticks run on a single goroutine, so a slow tick
// delays the next one instead of overlapping it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ledgerwatch.mini/lwm/internal/metrics"
)

// DefaultInterval is the tick cadence when none is configured.
const DefaultInterval = 10 * time.Second

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// State is the lifecycle state of a Scheduler.
type State int

const (
	// Idle means no ticker is armed.
	Idle State = iota
	// Running means the ticker is armed and ticks are delivered.
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Steps are the refresh operations the scheduler sequences. Each returns an
// error only to report it; a failed step never stops the cycle.
type Steps interface {
	LoadOrganizations(ctx context.Context) error
	RefreshHealth(ctx context.Context) error
	RefreshStats(ctx context.Context) error
	RefreshRecent(ctx context.Context) error
	RefreshChain(ctx context.Context) error
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Collectors
}

// Scheduler owns the refresh ticker.
type Scheduler struct {
	steps    Steps
	interval time.Duration
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Collectors

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle scheduler.
func New(steps Steps, opts Options) *Scheduler {
	s := &Scheduler{
		steps:    steps,
		interval: opts.Interval,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start bootstraps the view and arms the ticker. The bootstrap runs on the
// caller's goroutine and each step is awaited before the next begins. ctx
// bounds the scheduler's lifetime as a whole; Stop ends it earlier.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Running || s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.Bootstrap(runCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if runCtx.Err() != nil {
		// Stopped during bootstrap.
		close(s.done)
		cancel()
		s.cancel = nil
		return runCtx.Err()
	}
	ticker := s.clock.Ticker(s.interval)
	s.state = Running
	go s.loop(runCtx, ticker, s.done)
	s.log.Info("refresh scheduler running", "interval", s.interval.String())
	return nil
}

// Stop cancels the ticker and any in-flight tick and waits for the loop to
// exit. No tick starts after Stop returns. Stopping an idle scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.mu.Lock()
	s.state = Idle
	s.cancel = nil
	s.mu.Unlock()
	s.log.Info("refresh scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick that raced with Stop is dropped.
			if ctx.Err() != nil {
				return
			}
			_ = s.Tick(ctx)
		}
	}
}

// Bootstrap runs the initial load sequence: organizations, health, stats,
// recent transactions, chain view.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	return s.sequence(ctx, []step{
		{"organizations", s.steps.LoadOrganizations},
		{"health", s.steps.RefreshHealth},
		{"stats", s.steps.RefreshStats},
		{"recent", s.steps.RefreshRecent},
		{"chain", s.steps.RefreshChain},
	})
}

// Tick runs one refresh cycle: health, stats, recent transactions. The
// returned error joins every failed step.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.clock.Now()
	err := s.sequence(ctx, []step{
		{"health", s.steps.RefreshHealth},
		{"stats", s.steps.RefreshStats},
		{"recent", s.steps.RefreshRecent},
	})
	s.metrics.Tick(s.clock.Since(start))
	return err
}

type step struct {
	name string
	run  func(context.Context) error
}

func (s *Scheduler) sequence(ctx context.Context, steps []step) error {
	var errs []error
	for _, st := range steps {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := st.run(ctx); err != nil {
			s.metrics.RefreshError(st.name)
			s.log.Warn("refresh step failed", "step", st.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
		}
	}
	return errors.Join(errs...)
}
