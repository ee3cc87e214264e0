package upstream

import (
	"errors"
	"math/rand"
)

// ErrNoHealthyUpstream is returned when selection finds no enabled+healthy
// candidate.
var ErrNoHealthyUpstream = errors.New("upstream: no healthy upstream available")

// Algorithm is one of the four selection strategies named in §4.12.
type Algorithm string

const (
	AlgorithmRoundRobin         Algorithm = "round_robin"
	AlgorithmWeightedRoundRobin Algorithm = "weighted_round_robin"
	AlgorithmLeastConnections   Algorithm = "least_connections"
	AlgorithmRandom             Algorithm = "random"
)

// Select filters to healthy+enabled upstreams and picks one per algorithm.
func (p *Pool) Select(algo Algorithm) (*Upstream, error) {
	candidates := p.eligible()
	if len(candidates) == 0 {
		return nil, ErrNoHealthyUpstream
	}

	switch algo {
	case AlgorithmWeightedRoundRobin:
		return p.selectWeighted(candidates), nil
	case AlgorithmLeastConnections:
		return p.selectLeastConnections(candidates), nil
	case AlgorithmRandom:
		return candidates[rand.Intn(len(candidates))], nil
	default:
		return p.selectRoundRobin(candidates), nil
	}
}

// selectRoundRobin walks the candidate list via an atomic counter, the same
// shape as the router's stable-order rule matching.
func (p *Pool) selectRoundRobin(candidates []*Upstream) *Upstream {
	idx := p.counter.Add(1) - 1
	return candidates[int(idx)%len(candidates)]
}

// selectWeighted implements §4.11's weighted round-robin walk: counter mod
// total weight, then subtract weight per candidate until the target lands.
func (p *Pool) selectWeighted(candidates []*Upstream) *Upstream {
	total := 0
	for _, u := range candidates {
		if u.Weight <= 0 {
			total++ // treat non-positive weight as 1 to keep it selectable
		} else {
			total += u.Weight
		}
	}
	if total == 0 {
		return candidates[0]
	}

	target := int(p.counter.Add(1)-1) % total
	for _, u := range candidates {
		w := u.Weight
		if w <= 0 {
			w = 1
		}
		if target < w {
			return u
		}
		target -= w
	}
	return candidates[len(candidates)-1]
}

// selectLeastConnections picks the candidate with the smallest active count.
func (p *Pool) selectLeastConnections(candidates []*Upstream) *Upstream {
	best := candidates[0]
	for _, u := range candidates[1:] {
		if u.ActiveConnections() < best.ActiveConnections() {
			best = u
		}
	}
	return best
}
