package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fenwicklabs/phpedge/src/config"
)

// ShutdownCoordinator tracks in-flight requests and blocks new ones once a
// drain has started, polling for quiescence until a timeout forces the
// return, grounded on original_source/src/server/shutdown.rs.
type ShutdownCoordinator struct {
	timeout time.Duration
	logger  *slog.Logger

	shuttingDown atomic.Bool
	inFlight     atomic.Int64
}

// NewShutdownCoordinator builds a coordinator from its config.
func NewShutdownCoordinator(cfg config.ShutdownConfig, logger *slog.Logger) *ShutdownCoordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownCoordinator{timeout: timeout, logger: logger}
}

// Begin marks the start of one in-flight request, returning false if the
// coordinator is already draining (the caller should reject with 503).
func (s *ShutdownCoordinator) Begin() bool {
	if s.shuttingDown.Load() {
		return false
	}
	s.inFlight.Add(1)
	return true
}

// End marks the completion of one in-flight request started with Begin.
func (s *ShutdownCoordinator) End() {
	s.inFlight.Add(-1)
}

// InFlight reports the current number of in-flight requests.
func (s *ShutdownCoordinator) InFlight() int64 {
	return s.inFlight.Load()
}

// Draining reports whether a shutdown has been initiated.
func (s *ShutdownCoordinator) Draining() bool {
	return s.shuttingDown.Load()
}

// Shutdown flips the draining flag and polls every second until in-flight
// requests reach zero or the configured timeout elapses, whichever is
// first. A timeout logs a warning and returns anyway, matching the
// original's "forced return" behavior.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) {
	s.shuttingDown.Store(true)

	deadline := time.Now().Add(s.timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if s.inFlight.Load() == 0 {
			return
		}
		if time.Now().After(deadline) {
			s.logger.Warn("shutdown timeout reached with requests still in flight",
				"inFlight", s.inFlight.Load(), "timeout", s.timeout)
			return
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("shutdown context cancelled with requests still in flight",
				"inFlight", s.inFlight.Load())
			return
		case <-ticker.C:
		}
	}
}
