package breaker_test

import (
	"testing"
	"time"

	"github.com/fenwicklabs/phpedge/src/breaker"
	"github.com/stretchr/testify/require"
)

func newTestBreaker() *breaker.Breaker {
	return breaker.New(breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})
}

func TestCircuitBreakerScenario(t *testing.T) {
	b := newTestBreaker()

	require.False(t, b.IsOpen())
	b.RecordFailure()
	require.Equal(t, breaker.Closed, b.CurrentState())
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.CurrentState())
	require.True(t, b.IsOpen())

	time.Sleep(60 * time.Millisecond)

	require.False(t, b.IsOpen()) // probe: transitions to HalfOpen and admits this call
	require.Equal(t, breaker.HalfOpen, b.CurrentState())

	b.RecordSuccess()
	require.Equal(t, breaker.HalfOpen, b.CurrentState())
	b.RecordSuccess()
	require.Equal(t, breaker.Closed, b.CurrentState())
}

func TestClosedFailureCountResetsOnSuccess(t *testing.T) {
	b := newTestBreaker()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	require.Equal(t, breaker.Closed, b.CurrentState())
}

func TestHalfOpenAnyFailureReopens(t *testing.T) {
	b := newTestBreaker()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.CurrentState())

	time.Sleep(60 * time.Millisecond)
	require.False(t, b.IsOpen())
	require.Equal(t, breaker.HalfOpen, b.CurrentState())

	b.RecordFailure()
	require.Equal(t, breaker.Open, b.CurrentState())
}

func TestOpenRejectsUntilTimeoutElapsed(t *testing.T) {
	b := newTestBreaker()
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())
	require.True(t, b.IsOpen()) // still within timeout
}

func TestHalfOpenAllowsBoundedConcurrentProbes(t *testing.T) {
	b := breaker.New(breaker.Config{
		FailureThreshold:  1,
		SuccessThreshold:  5,
		Timeout:           10 * time.Millisecond,
		HalfOpenMaxProbes: 2,
	})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.False(t, b.IsOpen()) // probe 1 admitted, enters HalfOpen
	require.False(t, b.IsOpen()) // probe 2 admitted
	require.True(t, b.IsOpen())  // third concurrent probe rejected
}
