package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/destel/rill"
)

// Prober performs one health-check HTTP GET. Extracted as an interface so
// tests can substitute a fake without opening real sockets, the same
// narrow-interface pattern used throughout backend/.
type Prober interface {
	Probe(ctx context.Context, baseURL, path string, timeout time.Duration) error
}

// HTTPProber is the production Prober, a plain http.Client GET.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber builds a Prober with its own client (never shares the
// default client's timeouts with callers).
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{Client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &unhealthyStatusError{status: resp.StatusCode}
	}
	return nil
}

type unhealthyStatusError struct{ status int }

func (e *unhealthyStatusError) Error() string {
	return http.StatusText(e.status)
}

// HealthChecker periodically probes every enabled upstream concurrently and
// updates its consecutive success/failure counters (§4.12).
type HealthChecker struct {
	Pool                *Pool
	Prober              Prober
	Path                string
	Interval            time.Duration
	Timeout             time.Duration
	HealthyThreshold    int
	UnhealthyThreshold  int
	Concurrency         int
	Logger              *slog.Logger
}

// Run blocks, probing on Interval until ctx is cancelled. Probes for one
// round fan out concurrently via rill, the same stream-concurrency library
// the teacher's encdec package uses for message decoding.
func (h *HealthChecker) Run(ctx context.Context) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := h.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeRound(ctx, concurrency, logger)
		}
	}
}

func (h *HealthChecker) probeRound(ctx context.Context, concurrency int, logger *slog.Logger) {
	targets := h.Pool.All()
	stream := rill.FromSlice(targets, nil)

	err := rill.ForEach(stream, concurrency, func(u *Upstream) error {
		if !u.Enabled {
			return nil
		}
		probeErr := h.Prober.Probe(ctx, u.URL, h.Path, h.Timeout)
		u.recordOutcome(probeErr == nil, h.HealthyThreshold, h.UnhealthyThreshold)
		if probeErr != nil {
			logger.Debug("upstream health probe failed", "upstream", u.Name, "error", probeErr)
		}
		return nil
	})
	if err != nil {
		logger.Warn("upstream health check round failed", "error", err)
	}
}
