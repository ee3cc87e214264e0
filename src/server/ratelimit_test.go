package server_test

import (
	"testing"

	"github.com/fenwicklabs/phpedge/src/server"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsBurstThenThrottles(t *testing.T) {
	rl := server.NewRateLimiter(1, 2)
	require.True(t, rl.Allow("1.2.3.4"))
	require.True(t, rl.Allow("1.2.3.4"))
	require.False(t, rl.Allow("1.2.3.4"))
}

func TestRateLimiterTracksIPsIndependently(t *testing.T) {
	rl := server.NewRateLimiter(1, 1)
	require.True(t, rl.Allow("1.2.3.4"))
	require.False(t, rl.Allow("1.2.3.4"))
	require.True(t, rl.Allow("5.6.7.8"))
}
