package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"ledgerwatch.mini/lwm/internal/ledger"
	"ledgerwatch.mini/lwm/internal/types"
)

// LoadOrganizations fetches the recipient list once per session. Later calls
// are no-ops after a successful load.
func (s *Session) LoadOrganizations(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.orgsLoaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	orgs, err := s.ledger.Organizations(ctx)
	if err != nil {
		return s.stepDone("organizations", err)
	}

	s.update(func(v *View) {
		v.Organizations = orgs
		if v.Stats != nil {
			v.Ranking = ledger.RankOrganizations(v.Stats.DonationsByOrganization, orgs)
		}
	})
	s.mu.Lock()
	s.orgsLoaded = true
	s.mu.Unlock()
	return s.stepDone("organizations", nil)
}

// RefreshHealth probes every node and records the results. Unreachable
// nodes are part of the result, not an error.
func (s *Session) RefreshHealth(ctx context.Context) error {
	results := s.prober.ProbeAll(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.reg.SetHealth(results)
	nodes := s.reg.All()
	s.update(func(v *View) { v.Nodes = nodes })
	return s.stepDone("health", nil)
}

// RefreshStats fetches the node report and the chain, aggregates them and
// replaces the stats. On any failure the previous stats stay. The recent
// feed from the same snapshot is kept for the next RefreshRecent.
func (s *Session) RefreshStats(ctx context.Context) error {
	s.mu.Lock()
	s.recent = nil
	s.mu.Unlock()

	report, err := s.ledger.Stats(ctx)
	if err != nil {
		return s.stepDone("stats", err)
	}
	blocks, err := s.ledger.Chain(ctx)
	if err != nil {
		return s.stepDone("stats", err)
	}
	stats, err := ledger.Aggregate(types.ChainSnapshot{Blocks: blocks, Report: report}, s.window)
	if err != nil {
		return s.stepDone("stats", err)
	}

	s.update(func(v *View) {
		v.Stats = &stats
		v.Ranking = ledger.RankOrganizations(stats.DonationsByOrganization, v.Organizations)
	})
	s.mu.Lock()
	s.recent = stats.RecentTransactions
	if s.recent == nil {
		s.recent = []types.RecentTransaction{}
	}
	s.mu.Unlock()
	return s.stepDone("stats", nil)
}

// RefreshRecent replaces the recent transaction feed. It reuses the snapshot
// of a stats step that ran just before it and fetches the chain otherwise.
func (s *Session) RefreshRecent(ctx context.Context) error {
	s.mu.Lock()
	recent := s.recent
	s.recent = nil
	s.mu.Unlock()

	if recent == nil {
		blocks, err := s.ledger.Chain(ctx)
		if err != nil {
			return s.stepDone("recent", err)
		}
		stats, err := ledger.Aggregate(types.ChainSnapshot{Blocks: blocks}, s.window)
		if err != nil {
			return s.stepDone("recent", err)
		}
		recent = stats.RecentTransactions
	}
	s.update(func(v *View) { v.Recent = recent })
	return s.stepDone("recent", nil)
}

// RefreshChain fetches the chain and replaces the block list.
func (s *Session) RefreshChain(ctx context.Context) error {
	blocks, err := s.ledger.Chain(ctx)
	if err != nil {
		return s.stepDone("chain", err)
	}
	if err := ledger.Validate(blocks); err != nil {
		return s.stepDone("chain", err)
	}
	summaries := ledger.ChainView(blocks)
	s.update(func(v *View) { v.Chain = summaries })
	return s.stepDone("chain", nil)
}

// Refresh runs the periodic steps on demand: health, stats, recent.
func (s *Session) Refresh(ctx context.Context) error {
	return firstErr(
		s.RefreshHealth(ctx),
		s.RefreshStats(ctx),
		s.RefreshRecent(ctx),
	)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// refreshLater runs steps in order after delay, once the nodes have had
// time to settle. Steps run under the session's own context so Close cancels
// them.
func (s *Session) refreshLater(delay time.Duration, reason string, steps ...func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	s.pending.Add(1)
	var t *clock.Timer
	t = s.clock.AfterFunc(delay, func() {
		defer s.pending.Done()
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		for _, step := range steps {
			if err := step(s.ctx); err != nil {
				s.log.Debug("follow-up refresh step failed", "reason", reason, "error", err)
			}
		}
	})
	s.timers[t] = struct{}{}
}
