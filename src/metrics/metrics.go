// Package metrics is the process-wide Prometheus collector (C12): HTTP,
// backend, WAF, and breaker observations, all on atomic-backed prometheus
// collectors registered against one private registry. Built the way the
// grafana-tempo and http-server-stabilizer examples in the retrieval pack
// wire promauto against an explicit registerer, rather than the default
// global registry, so a phpedge process can run more than one instance in
// tests without collector-already-registered panics.
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the concrete metrics implementation satisfying the narrow
// interfaces each package declares for itself (backend.RouterMetrics,
// waf.Metrics, server.HTTPMetrics, server.MetricsExporter). Consumers
// depend on those interfaces, never on this type, so this is the only
// package that imports prometheus/client_golang directly.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec

	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendErrors   *prometheus.CounterVec

	wafBlocked *prometheus.CounterVec

	breakerState *prometheus.GaugeVec

	poolConnections *prometheus.GaugeVec
	poolAcquires    *prometheus.CounterVec

	upstreamHealthy *prometheus.GaugeVec
	upstreamActive  *prometheus.GaugeVec

	activeWorkers prometheus.Gauge
	inFlight      prometheus.Gauge
}

// New builds a Collector under namespace (config.MetricsConfig.Namespace),
// all metrics registered against a private registry so repeated New calls
// (as in tests) never collide with prometheus's default global registry.
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	return &Collector{
		registry: reg,

		httpRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),

		backendRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_request_total",
			Help:      "Backend executions, by backend and outcome.",
		}, []string{"backend", "outcome"}),

		backendDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Backend execution latency, by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		backendErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_error_total",
			Help:      "Backend execution failures, by backend and error kind.",
		}, []string{"backend", "kind"}),

		wafBlocked: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waf_blocked_total",
			Help:      "Requests matching a WAF rule, by rule id.",
		}, []string{"rule_id"}),

		breakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream: 0=closed 1=half_open 2=open.",
		}, []string{"upstream"}),

		poolConnections: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fastcgi_pool_idle_connections",
			Help:      "Idle FastCGI connections currently held in the pool.",
		}, []string{"upstream"}),

		poolAcquires: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fastcgi_pool_acquire_total",
			Help:      "FastCGI pool acquisitions, by outcome (hit/dial/error).",
		}, []string{"outcome"}),

		upstreamHealthy: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_healthy",
			Help:      "1 if the upstream's last health probe succeeded, else 0.",
		}, []string{"upstream"}),

		upstreamActive: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_active_connections",
			Help:      "In-flight requests currently assigned to the upstream.",
		}, []string{"upstream"}),

		activeWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedded_workers_active",
			Help:      "Embedded-interpreter worker threads past thread_init and not yet exited.",
		}),

		inFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Requests currently being served, tracked by the shutdown coordinator.",
		}),
	}
}

// ObserveHTTPRequest implements server.HTTPMetrics.
func (c *Collector) ObserveHTTPRequest(method string, status int) {
	c.httpRequests.WithLabelValues(method, statusLabel(status)).Inc()
}

// ObserveBackendRequest implements backend.RouterMetrics.
func (c *Collector) ObserveBackendRequest(backendName, outcome string) {
	c.backendRequests.WithLabelValues(backendName, outcome).Inc()
}

// ObserveBackendDuration implements backend.RouterMetrics.
func (c *Collector) ObserveBackendDuration(backendName string, seconds float64) {
	c.backendDuration.WithLabelValues(backendName).Observe(seconds)
}

// ObserveBackendError implements backend.RouterMetrics.
func (c *Collector) ObserveBackendError(backendName, kind string) {
	c.backendErrors.WithLabelValues(backendName, kind).Inc()
}

// ObserveWAFBlocked implements waf.Metrics.
func (c *Collector) ObserveWAFBlocked(ruleID string) {
	c.wafBlocked.WithLabelValues(ruleID).Inc()
}

// SetBreakerState records a circuit breaker's current state (0/1/2) for the
// named upstream.
func (c *Collector) SetBreakerState(upstream string, state int) {
	c.breakerState.WithLabelValues(upstream).Set(float64(state))
}

// SetPoolIdleConnections records the FastCGI pool's current idle count.
func (c *Collector) SetPoolIdleConnections(upstream string, n int) {
	c.poolConnections.WithLabelValues(upstream).Set(float64(n))
}

// ObservePoolAcquire records one connection-pool acquisition outcome
// (hit/dial/error), per §4.3.
func (c *Collector) ObservePoolAcquire(outcome string) {
	c.poolAcquires.WithLabelValues(outcome).Inc()
}

// SetUpstreamHealth records an upstream's latest health-probe verdict.
func (c *Collector) SetUpstreamHealth(upstream string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.upstreamHealthy.WithLabelValues(upstream).Set(v)
}

// SetUpstreamActive records an upstream's current in-flight request count.
func (c *Collector) SetUpstreamActive(upstream string, n int64) {
	c.upstreamActive.WithLabelValues(upstream).Set(float64(n))
}

// SetActiveWorkers records the embedded worker pool's live thread count.
func (c *Collector) SetActiveWorkers(n int64) {
	c.activeWorkers.Set(float64(n))
}

// SetInFlight records the shutdown coordinator's current in-flight count.
func (c *Collector) SetInFlight(n int64) {
	c.inFlight.Set(float64(n))
}

// Export renders every registered metric as Prometheus text format, the
// body served at ServerConfig.MetricsPath (§6 "Metrics endpoint"). Reuses
// promhttp's own handler against an in-memory recorder rather than
// hand-rolling the text-format encoding.
func (c *Collector) Export() []byte {
	handler := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.Bytes()
}

// statusLabel renders an HTTP status as the "status" label value, grouping
// nothing: Prometheus consumers commonly want the exact code, not a class,
// for alerting on specific upstream error codes.
func statusLabel(status int) string {
	return strconv.Itoa(status)
}
