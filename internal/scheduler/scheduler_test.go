package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder records the order in which steps run and signals every completed
// tick (the recent step ends a tick).
type recorder struct {
	mu       sync.Mutex
	calls    []string
	failStat bool
	ticks    chan struct{}
	ready    bool
}

func newRecorder() *recorder {
	return &recorder{ticks: make(chan struct{}, 16)}
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.ready = true
}

func (r *recorder) LoadOrganizations(context.Context) error { r.record("organizations"); return nil }
func (r *recorder) RefreshHealth(context.Context) error     { r.record("health"); return nil }
func (r *recorder) RefreshChain(context.Context) error      { r.record("chain"); return nil }

func (r *recorder) RefreshStats(context.Context) error {
	r.record("stats")
	if r.failStat {
		return errors.New("all nodes unreachable")
	}
	return nil
}

func (r *recorder) RefreshRecent(context.Context) error {
	r.record("recent")
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	if ready {
		r.ticks <- struct{}{}
	}
	return nil
}

func waitTick(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run")
	}
}

// advance moves the mock clock until the ticker has delivered a tick.
func advance(t *testing.T, mock *clock.Mock, r *recorder, d time.Duration) {
	t.Helper()
	mock.Add(d)
	waitTick(t, r)
}

func TestStartBootstrapsInOrderThenTicks(t *testing.T) {
	mock := clock.NewMock()
	rec := newRecorder()
	s := New(rec, Options{Interval: 10 * time.Second, Clock: mock})

	require.Equal(t, Idle, s.State())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	require.Equal(t, Running, s.State())
	require.Equal(t, []string{"organizations", "health", "stats", "recent", "chain"}, rec.snapshot())

	rec.reset()
	advance(t, mock, rec, 10*time.Second)
	require.Equal(t, []string{"health", "stats", "recent"}, rec.snapshot(), "ticks never refresh the chain")

	advance(t, mock, rec, 10*time.Second)
	require.Len(t, rec.snapshot(), 6)
}

func TestTickContinuesAfterFailedStep(t *testing.T) {
	rec := newRecorder()
	rec.failStat = true
	s := New(rec, Options{Clock: clock.NewMock()})

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats")
	assert.Equal(t, []string{"health", "stats", "recent"}, rec.snapshot())
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	mock := clock.NewMock()
	rec := newRecorder()
	s := New(rec, Options{Interval: time.Second, Clock: mock})

	require.NoError(t, s.Start(context.Background()))
	rec.reset()
	advance(t, mock, rec, time.Second)

	s.Stop()
	require.Equal(t, Idle, s.State())
	before := len(rec.snapshot())

	mock.Add(5 * time.Second)
	select {
	case <-rec.ticks:
		t.Fatal("tick after stop")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, before, len(rec.snapshot()))

	s.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	s := New(newRecorder(), Options{Clock: clock.NewMock()})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
}

func TestRestartAfterStop(t *testing.T) {
	mock := clock.NewMock()
	rec := newRecorder()
	s := New(rec, Options{Interval: time.Second, Clock: mock})

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	rec.reset()
	advance(t, mock, rec, time.Second)
	require.Equal(t, Running, s.State())
}

func TestCancelledParentContextDuringBootstrap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(newRecorder(), Options{Clock: clock.NewMock()})

	require.ErrorIs(t, s.Start(ctx), context.Canceled)
	require.Equal(t, Idle, s.State())
}
