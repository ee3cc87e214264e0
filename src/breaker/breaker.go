// Package breaker implements the three-state circuit breaker guarding
// FastCGI upstreams (§3 "CircuitBreaker", §4.4). The exact concurrent
// half-open probe semantics and deterministic threshold counting it
// requires aren't what go-resiliency/breaker exposes, so the state machine
// is hand-rolled here; go-resiliency/retrier is still used for connection
// dial backoff in the php package.
package breaker

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen (§3).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config carries the breaker thresholds (§4.4, config.BreakerConfig).
type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	Timeout           time.Duration
	HalfOpenMaxProbes int
}

// Breaker is safe for concurrent callers on every method (§4.4).
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	halfOpenInFlight int
}

// New constructs a Breaker starting Closed.
func New(cfg Config) *Breaker {
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 3
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// IsOpen reports whether a request should be rejected. Calling it from
// Open also performs the Open->HalfOpen "probe" transition once Timeout
// has elapsed since the last failure (§4.4).
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxProbes {
			return true
		}
		b.halfOpenInFlight++
		return false
	case Open:
		if time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			b.halfOpenInFlight = 1
			return false
		}
		return true
	default:
		return true
	}
}

// RecordSuccess applies the success-side transitions in §3/§4.4.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenInFlight = 0
		}
	case Open:
		// A success here means a stale caller raced the Open state; ignore.
	}
}

// RecordFailure applies the failure-side transitions in §3/§4.4.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.state = Open
		b.failureCount = 0
		b.successCount = 0
		b.halfOpenInFlight = 0
	case Open:
		// already open; nothing further to do besides the timestamp update above.
	}
}

// TryReset forces the breaker back to Closed and clears its counters.
func (b *Breaker) TryReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
}

// CurrentState returns the current state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
