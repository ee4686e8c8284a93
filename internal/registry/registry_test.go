package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerwatch.mini/lwm/internal/types"
)

func TestAdvanceWraps(t *testing.T) {
	r := New([]string{"http://a", "http://b", "http://c"})
	require.Equal(t, "http://a", r.Current().Address)

	r.Advance()
	require.Equal(t, "http://b", r.Current().Address)
	r.Advance()
	r.Advance()
	require.Equal(t, "http://a", r.Current().Address, "advance wraps modulo the node count")
	require.Equal(t, 0, r.Index())
}

func TestNodesKeepConfiguredOrder(t *testing.T) {
	r := New([]string{"http://a", "http://b"})
	r.Advance()

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].PreferredOrder)
	assert.Equal(t, "http://b", all[1].Address)
	assert.Equal(t, types.HealthUnknown, all[1].Health.Status)
	assert.Equal(t, []string{"http://a", "http://b"}, r.Addresses())
	assert.Equal(t, "http://a", r.At(0).Address, "At ignores the preferred index")
}

func TestAdvanceFromOnlyMovesOnce(t *testing.T) {
	r := New([]string{"http://a", "http://b", "http://c"})

	require.True(t, r.AdvanceFrom(0))
	require.False(t, r.AdvanceFrom(0), "a stale index must not advance again")
	require.Equal(t, 1, r.Index())
}

func TestConcurrentAdvanceIsAtomic(t *testing.T) {
	r := New([]string{"http://a", "http://b", "http://c"})

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Advance()
		}()
	}
	wg.Wait()

	require.Equal(t, 0, r.Index(), "300 advances over 3 nodes land back on the first")
}

func TestSetHealthMatchesByAddress(t *testing.T) {
	r := New([]string{"http://a", "http://b"})
	height := 4
	r.SetHealth([]types.NodeHealth{
		{Address: "http://b", Reachable: true, BlockHeight: &height, Status: types.HealthOnline},
		{Address: "http://zzz", Reachable: true},
	})

	all := r.All()
	assert.Equal(t, types.HealthUnknown, all[0].Health.Status)
	require.True(t, all[1].Health.Reachable)
	assert.Equal(t, 4, *all[1].Health.BlockHeight)
}
