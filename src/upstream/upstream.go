// Package upstream implements the upstream pool and health checker (§4.12):
// selection algorithms over a list of configured upstreams, each guarded by
// its own health state, wired the way the teacher wires per-connector state
// (narrow config struct in, small exported API out).
package upstream

import (
	"sync"
	"sync/atomic"
)

// Upstream is one configured backend target with its live health and load
// state. Name/URL/Weight/Enabled mirror config.UpstreamConfig; the rest is
// runtime-tracked.
type Upstream struct {
	Name    string
	URL     string
	Weight  int
	Enabled bool

	active atomic.Int64

	mu                   sync.RWMutex
	healthy              bool
	consecutiveSuccesses int
	consecutiveFailures  int
}

// NewUpstream builds an Upstream, optimistically healthy until the first
// probe says otherwise.
func NewUpstream(name, url string, weight int, enabled bool) *Upstream {
	u := &Upstream{Name: name, URL: url, Weight: weight, Enabled: enabled}
	u.healthy = true
	return u
}

// Healthy reports the last health-check verdict.
func (u *Upstream) Healthy() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.healthy
}

// ActiveConnections returns the current in-flight count for least-connections
// selection.
func (u *Upstream) ActiveConnections() int64 {
	return u.active.Load()
}

// Acquire/Release bracket one request's use of the upstream for
// least-connections bookkeeping.
func (u *Upstream) Acquire() { u.active.Add(1) }
func (u *Upstream) Release() { u.active.Add(-1) }

// recordOutcome applies one health-probe result, tracking consecutive runs
// per §4.12: "each consecutive outcome resets the opposite counter".
func (u *Upstream) recordOutcome(success bool, healthyThreshold, unhealthyThreshold int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if success {
		u.consecutiveFailures = 0
		u.consecutiveSuccesses++
		if u.consecutiveSuccesses >= healthyThreshold {
			u.healthy = true
		}
		return
	}

	u.consecutiveSuccesses = 0
	u.consecutiveFailures++
	if u.consecutiveFailures >= unhealthyThreshold {
		u.healthy = false
	}
}

// Pool holds the configured upstream list and exposes selection plus health
// bookkeeping.
type Pool struct {
	mu        sync.RWMutex
	upstreams []*Upstream
	counter   atomic.Uint64
}

// NewPool builds a Pool from already-constructed upstreams, in configured
// order (round-robin iterates this order).
func NewPool(upstreams []*Upstream) *Pool {
	return &Pool{upstreams: upstreams}
}

// All returns every configured upstream, healthy or not (used by the
// health checker and the serve command's metrics loop).
func (p *Pool) All() []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Upstream, len(p.upstreams))
	copy(out, p.upstreams)
	return out
}

// eligible returns enabled+healthy upstreams, the candidate set §4.12
// selection algorithms choose from.
func (p *Pool) eligible() []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Upstream, 0, len(p.upstreams))
	for _, u := range p.upstreams {
		if u.Enabled && u.Healthy() {
			out = append(out, u)
		}
	}
	return out
}
