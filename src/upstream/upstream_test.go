package upstream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fenwicklabs/phpedge/src/upstream"
	"github.com/stretchr/testify/require"
)

func newTestPool() (*upstream.Pool, []*upstream.Upstream) {
	a := upstream.NewUpstream("a", "http://a", 1, true)
	b := upstream.NewUpstream("b", "http://b", 3, true)
	c := upstream.NewUpstream("c", "http://c", 1, true)
	return upstream.NewPool([]*upstream.Upstream{a, b, c}), []*upstream.Upstream{a, b, c}
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	pool, ups := newTestPool()
	for i := 0; i < 6; i++ {
		got, err := pool.Select(upstream.AlgorithmRoundRobin)
		require.NoError(t, err)
		require.Equal(t, ups[i%3].Name, got.Name)
	}
}

func TestWeightedRoundRobinRespectsWeights(t *testing.T) {
	pool, _ := newTestPool()
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		got, err := pool.Select(upstream.AlgorithmWeightedRoundRobin)
		require.NoError(t, err)
		counts[got.Name]++
	}
	require.Greater(t, counts["b"], counts["a"])
	require.Greater(t, counts["b"], counts["c"])
}

func TestLeastConnectionsPicksLowest(t *testing.T) {
	pool, ups := newTestPool()
	ups[0].Acquire()
	ups[0].Acquire()
	ups[1].Acquire()

	got, err := pool.Select(upstream.AlgorithmLeastConnections)
	require.NoError(t, err)
	require.Equal(t, "c", got.Name)
}

func TestSelectExcludesUnhealthyAndDisabled(t *testing.T) {
	a := upstream.NewUpstream("a", "http://a", 1, true)
	b := upstream.NewUpstream("b", "http://b", 1, false)
	c := upstream.NewUpstream("c", "http://c", 1, true)

	// Mark c unhealthy with a failing probe round on a pool of its own.
	checker := &upstream.HealthChecker{
		Pool:               upstream.NewPool([]*upstream.Upstream{c}),
		Prober:             &fakeProber{fail: map[string]bool{"http://c": true}},
		Interval:           time.Millisecond,
		Timeout:            time.Second,
		HealthyThreshold:   1,
		UnhealthyThreshold: 1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	checker.Run(ctx)
	require.False(t, c.Healthy())

	pool := upstream.NewPool([]*upstream.Upstream{a, b, c})
	for i := 0; i < 3; i++ {
		got, err := pool.Select(upstream.AlgorithmRoundRobin)
		require.NoError(t, err)
		require.Equal(t, "a", got.Name)
	}
}

func TestSelectErrorsWhenNoneHealthy(t *testing.T) {
	a := upstream.NewUpstream("a", "http://a", 1, false)
	pool := upstream.NewPool([]*upstream.Upstream{a})

	_, err := pool.Select(upstream.AlgorithmRoundRobin)
	require.ErrorIs(t, err, upstream.ErrNoHealthyUpstream)
}

type fakeProber struct {
	fail map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, baseURL, _ string, _ time.Duration) error {
	if f.fail[baseURL] {
		return errors.New("probe failed")
	}
	return nil
}

func TestHealthCheckerMarksUnhealthyAfterThreshold(t *testing.T) {
	u := upstream.NewUpstream("a", "http://a", 1, true)
	pool := upstream.NewPool([]*upstream.Upstream{u})

	checker := &upstream.HealthChecker{
		Pool:               pool,
		Prober:             &fakeProber{fail: map[string]bool{"http://a": true}},
		Path:               "/_health",
		Interval:           5 * time.Millisecond,
		Timeout:            time.Second,
		HealthyThreshold:   1,
		UnhealthyThreshold: 2,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	checker.Run(ctx)

	require.False(t, u.Healthy())
}

func TestHealthCheckerRecoversAfterThreshold(t *testing.T) {
	u := upstream.NewUpstream("a", "http://a", 1, true)
	pool := upstream.NewPool([]*upstream.Upstream{u})
	prober := &fakeProber{fail: map[string]bool{"http://a": true}}

	checker := &upstream.HealthChecker{
		Pool:               pool,
		Prober:             prober,
		Path:               "/_health",
		Interval:           5 * time.Millisecond,
		Timeout:            time.Second,
		HealthyThreshold:   2,
		UnhealthyThreshold: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	checker.Run(ctx)
	cancel()
	require.False(t, u.Healthy())

	prober.fail["http://a"] = false
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	checker.Run(ctx2)
	require.True(t, u.Healthy())
}
