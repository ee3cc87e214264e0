package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-IP token-bucket limiter, the same library and shape
// as the teacher's HTTP source connector's RateLimitConfig/limiter
// (connectors/http/httpsource.go), generalized from one global limiter to
// one bucket per remote IP.
type RateLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter allowing rps requests/sec with the given
// burst, per remote IP.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from ip may proceed, creating that IP's
// bucket on first use.
func (r *RateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	l, ok := r.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[ip] = l
	}
	r.mu.Unlock()
	return l.Allow()
}
