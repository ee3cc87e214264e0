package deployment

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenwicklabs/phpedge/src/config"
)

// CanaryConfig is config.CanaryConfig, aliased here so callers can refer to
// deployment.CanaryConfig without a second import.
type CanaryConfig = config.CanaryConfig

// canaryStats accumulates request outcomes for the canary variant only,
// grounded on original_source/src/deployment/canary.rs's CanaryStats.
type canaryStats struct {
	total  atomic.Uint64
	failed atomic.Uint64
}

func (s *canaryStats) record(success bool) {
	s.total.Add(1)
	if !success {
		s.failed.Add(1)
	}
}

func (s *canaryStats) errorRate() float64 {
	total := s.total.Load()
	if total == 0 {
		return 0
	}
	return float64(s.failed.Load()) / float64(total)
}

func (s *canaryStats) reset() {
	s.total.Store(0)
	s.failed.Store(0)
}

// CanaryManager ramps traffic to CanaryUpstream in StepPercent increments
// every StepInterval, rolling back to 0% if the observed error rate exceeds
// MaxErrorRate (§C.5 of the expanded spec).
type CanaryManager struct {
	cfg      CanaryConfig
	splitter *Splitter
	stats    canaryStats
	logger   *slog.Logger

	mu            sync.Mutex
	canaryPercent int
	rolledBack    bool
	phaseStart    time.Time
}

// NewCanaryManager builds a manager starting at StartPercent canary traffic.
func NewCanaryManager(cfg CanaryConfig, logger *slog.Logger) (*CanaryManager, error) {
	splitter, err := NewSplitter([]Variant{
		{Name: cfg.StableUpstream, Weight: 100 - cfg.StartPercent},
		{Name: cfg.CanaryUpstream, Weight: cfg.StartPercent},
	}, false)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CanaryManager{cfg: cfg, splitter: splitter, logger: logger, canaryPercent: cfg.StartPercent, phaseStart: timeNow()}, nil
}

// Select returns which upstream name should serve this request. identifier
// is accepted for interface parity with Splitter/ABTest but ignored: canary
// ramp-up never pins a caller to a variant, so every request re-rolls.
func (m *CanaryManager) Select(identifier string) string {
	return m.splitter.Select("")
}

// RecordRequest records one outcome against the named variant; only the
// canary variant's outcomes feed the rollback decision.
func (m *CanaryManager) RecordRequest(variant string, success bool) {
	if variant == m.cfg.CanaryUpstream {
		m.stats.record(success)
	}
}

// Tick advances the canary phase if StepInterval has elapsed: promotes by
// StepPercent, or rolls back to 0% if the error rate threshold was breached.
// Intended to be called periodically (e.g. alongside the health checker).
func (m *CanaryManager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rolledBack || m.canaryPercent >= 100 {
		return
	}
	if m.phaseStart.IsZero() {
		m.phaseStart = timeNow()
	}
	if timeNow().Sub(m.phaseStart) < m.cfg.StepInterval {
		return
	}

	if m.stats.errorRate() > m.cfg.MaxErrorRate {
		m.logger.Warn("canary error rate exceeded threshold, rolling back",
			"upstream", m.cfg.CanaryUpstream, "error_rate", m.stats.errorRate())
		m.canaryPercent = 0
		m.rolledBack = true
		m.splitter.UpdateWeights(map[string]int{m.cfg.StableUpstream: 100, m.cfg.CanaryUpstream: 0})
		return
	}

	m.canaryPercent += m.cfg.StepPercent
	if m.canaryPercent > 100 {
		m.canaryPercent = 100
	}
	m.logger.Info("canary promoted", "upstream", m.cfg.CanaryUpstream, "percent", m.canaryPercent)
	m.splitter.UpdateWeights(map[string]int{
		m.cfg.StableUpstream: 100 - m.canaryPercent,
		m.cfg.CanaryUpstream: m.canaryPercent,
	})
	m.stats.reset()
	m.phaseStart = timeNow()
}

// CanaryPercent reports the current canary traffic percentage.
func (m *CanaryManager) CanaryPercent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canaryPercent
}

// RolledBack reports whether an error-rate rollback has occurred.
func (m *CanaryManager) RolledBack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rolledBack
}

// timeNow is a seam so tests can't rely on wall-clock determinism but
// production uses the real clock.
var timeNow = time.Now
