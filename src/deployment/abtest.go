package deployment

import (
	"sync"
	"sync/atomic"

	"github.com/fenwicklabs/phpedge/src/common/expreval"
	"github.com/fenwicklabs/phpedge/src/config"
)

// ABTestConfig is config.ABTestConfig, aliased for symmetry with CanaryConfig.
type ABTestConfig = config.ABTestConfig

type variantStats struct {
	total      atomic.Uint64
	successful atomic.Uint64
}

func (s *variantStats) record(success bool) {
	s.total.Add(1)
	if success {
		s.successful.Add(1)
	}
}

func (s *variantStats) successRate() float64 {
	total := s.total.Load()
	if total == 0 {
		return 0
	}
	return float64(s.successful.Load()) / float64(total)
}

// VariantSnapshot is one variant's accumulated stats, returned by Stats.
type VariantSnapshot struct {
	Name          string
	TotalRequests uint64
	SuccessRate   float64
}

// ABTest assigns a sticky variant per identifier for experiment measurement,
// optionally gated by an expr-lang condition (Cond) that Eligible evaluates
// against a caller-supplied field map; Select does not consult Cond —
// grounded on original_source/src/deployment/ab_test.rs, with
// condition-based eligibility added (§B domain stack).
type ABTest struct {
	cfg      ABTestConfig
	splitter *Splitter
	cond     *expreval.ExprEvaluator

	mu    sync.Mutex
	stats map[string]*variantStats
}

// NewABTest builds an ABTest from its config. Weights default to equal
// split when not provided.
func NewABTest(cfg ABTestConfig) (*ABTest, error) {
	weights := cfg.Weights
	if len(weights) != len(cfg.Variants) {
		weights = make([]int, len(cfg.Variants))
		for i := range weights {
			weights[i] = 1
		}
	}

	variants := make([]Variant, len(cfg.Variants))
	stats := make(map[string]*variantStats, len(cfg.Variants))
	for i, name := range cfg.Variants {
		variants[i] = Variant{Name: name, Weight: weights[i]}
		stats[name] = &variantStats{}
	}

	splitter, err := NewSplitter(variants, cfg.Sticky)
	if err != nil {
		return nil, err
	}

	var cond *expreval.ExprEvaluator
	if cfg.Cond != "" {
		cond, err = expreval.NewExprEvaluator(cfg.Cond)
		if err != nil {
			return nil, err
		}
	}

	return &ABTest{cfg: cfg, splitter: splitter, cond: cond, stats: stats}, nil
}

// Eligible reports whether this request participates in the test at all,
// per the optional Cond expression (always true when Cond is unset).
func (t *ABTest) Eligible(fields map[string]any) (bool, error) {
	if t.cond == nil {
		return true, nil
	}
	return t.cond.Eval(fields)
}

// Select returns the assigned variant name for identifier.
func (t *ABTest) Select(identifier string) string {
	return t.splitter.Select(identifier)
}

// RecordRequest records one outcome for the named variant.
func (t *ABTest) RecordRequest(variant string, success bool) {
	t.mu.Lock()
	s, ok := t.stats[variant]
	t.mu.Unlock()
	if ok {
		s.record(success)
	}
}

// Stats returns a snapshot of every variant's accumulated stats.
func (t *ABTest) Stats() []VariantSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]VariantSnapshot, 0, len(t.stats))
	for name, s := range t.stats {
		out = append(out, VariantSnapshot{Name: name, TotalRequests: s.total.Load(), SuccessRate: s.successRate()})
	}
	return out
}
