package deployment_test

import (
	"testing"
	"time"

	"github.com/fenwicklabs/phpedge/src/deployment"
	"github.com/stretchr/testify/require"
)

func TestSplitterWeightedDistribution(t *testing.T) {
	s, err := deployment.NewSplitter([]deployment.Variant{
		{Name: "v1", Weight: 70},
		{Name: "v2", Weight: 30},
	}, false)
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[s.Select("")]++
	}
	require.Greater(t, counts["v1"], 600)
	require.Less(t, counts["v1"], 800)
}

func TestSplitterStickySessionsPersistAssignment(t *testing.T) {
	s, err := deployment.NewSplitter([]deployment.Variant{
		{Name: "v1", Weight: 1},
		{Name: "v2", Weight: 1},
	}, true)
	require.NoError(t, err)

	first := s.Select("user-1")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.Select("user-1"))
	}
	require.Equal(t, 1, s.StickySessionCount())
}

func TestSplitterRejectsZeroVariants(t *testing.T) {
	_, err := deployment.NewSplitter(nil, false)
	require.ErrorIs(t, err, deployment.ErrNoVariants)
}

func TestCanaryPromotesAndRollsBackOnErrorRate(t *testing.T) {
	mgr, err := deployment.NewCanaryManager(deployment.CanaryConfig{
		StableUpstream: "stable",
		CanaryUpstream: "canary",
		StartPercent:   5,
		StepPercent:    10,
		StepInterval:   time.Millisecond,
		MaxErrorRate:   0.1,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 5, mgr.CanaryPercent())

	time.Sleep(2 * time.Millisecond)
	mgr.Tick()
	require.Equal(t, 15, mgr.CanaryPercent())

	for i := 0; i < 10; i++ {
		mgr.RecordRequest("canary", false)
	}
	time.Sleep(2 * time.Millisecond)
	mgr.Tick()
	require.True(t, mgr.RolledBack())
	require.Equal(t, 0, mgr.CanaryPercent())
}

func TestABTestStickyAssignmentAndCondGating(t *testing.T) {
	at, err := deployment.NewABTest(deployment.ABTestConfig{
		Name:     "checkout-flow",
		Variants: []string{"a", "b"},
		Weights:  []int{1, 1},
		Sticky:   true,
		Cond:     `country == "US"`,
	})
	require.NoError(t, err)

	eligible, err := at.Eligible(map[string]any{"country": "US"})
	require.NoError(t, err)
	require.True(t, eligible)

	eligible, err = at.Eligible(map[string]any{"country": "DE"})
	require.NoError(t, err)
	require.False(t, eligible)

	variant := at.Select("user-42")
	for i := 0; i < 5; i++ {
		require.Equal(t, variant, at.Select("user-42"))
	}

	at.RecordRequest(variant, true)
	stats := at.Stats()
	require.Len(t, stats, 2)
}
