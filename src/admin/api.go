// Package admin implements the admin line protocol (§6 "Admin line
// protocol"): status/health/metrics/analysis/blocked_ips/reload_config/
// restart_workers/block_ip/unblock_ip over a Unix-domain socket, grounded
// on original_source/src/admin/api.rs and unix_socket.rs.
package admin

import (
	"fmt"
	"time"

	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/fenwicklabs/phpedge/src/monitor"
)

// WorkerPool is the narrow surface the admin API needs from php.WorkerPool.
type WorkerPool interface {
	ActiveWorkers() int64
}

// ShutdownCoordinator is the narrow surface needed from server.ShutdownCoordinator.
type ShutdownCoordinator interface {
	InFlight() int64
	Draining() bool
}

// IPBlocker is the narrow surface needed from server.IPBlocker.
type IPBlocker interface {
	Block(ip string) error
	Unblock(ip string) error
	List() []string
}

// MetricsExporter is the narrow surface needed from metrics.Collector.
type MetricsExporter interface {
	Export() []byte
}

// ConfigReloader reloads and swaps the active config snapshot (§6 SIGUSR1 /
// reload_config).
type ConfigReloader interface {
	Reload(path string) (*config.Config, error)
}

// WorkerRestarter restarts the embedded worker pool in place, the admin
// escape hatch for a pool wedged by a misbehaving script; the source
// tolerates worker loss without an automatic replacement policy (§9 open
// question), so this is operator-triggered only.
type WorkerRestarter interface {
	Restart() error
}

// WorkerStatus mirrors one worker's state for the "status" command.
type WorkerStatus struct {
	WorkerID        int     `json:"worker_id"`
	Status          string  `json:"status"`
	RequestsHandled int     `json:"requests_handled"`
	MemoryMB        float64 `json:"memory_mb"`
}

// ServerStatus is the "status" command payload.
type ServerStatus struct {
	UptimeSeconds     int64          `json:"uptime_seconds"`
	ActiveConnections int64          `json:"active_connections"`
	ActiveWorkers     int64          `json:"active_workers"`
	Draining          bool           `json:"draining"`
	Workers           []WorkerStatus `json:"workers"`
}

// HealthProbe is one backend's health, matching server.serveHealth's JSON
// shape for the admin "health" command.
type HealthProbe struct {
	Healthy   bool    `json:"healthy"`
	Message   string  `json:"message"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
}

// HealthChecker is the narrow surface needed to reuse the HTTP /_health
// logic from the admin socket.
type HealthChecker interface {
	CheckAll() map[string]HealthProbe
}

// API implements every admin command against live process state. All
// fields may be nil except ConfigPath; nil collaborators degrade their
// command to an error response rather than panicking.
type API struct {
	StartedAt  time.Time
	ConfigPath string

	Workers   WorkerPool
	Shutdown  ShutdownCoordinator
	IPBlocker IPBlocker
	Metrics   MetricsExporter
	Analyzer  *monitor.Analyzer
	Config    ConfigReloader
	Restarter     WorkerRestarter
	HealthChecker HealthChecker
}

// Status implements the "status" command.
func (a *API) Status() ServerStatus {
	st := ServerStatus{UptimeSeconds: int64(time.Since(a.StartedAt).Seconds())}
	if a.Shutdown != nil {
		st.ActiveConnections = a.Shutdown.InFlight()
		st.Draining = a.Shutdown.Draining()
	}
	if a.Workers != nil {
		st.ActiveWorkers = a.Workers.ActiveWorkers()
		for i := int64(0); i < st.ActiveWorkers; i++ {
			st.Workers = append(st.Workers, WorkerStatus{WorkerID: int(i), Status: "serving"})
		}
	}
	return st
}

// Health implements the "health" command, reusing the same backend checks
// as the HTTP /_health endpoint.
func (a *API) Health() map[string]HealthProbe {
	if a.HealthChecker == nil {
		return map[string]HealthProbe{}
	}
	return a.HealthChecker.CheckAll()
}

// MetricsText implements the "metrics" command.
func (a *API) MetricsText() string {
	if a.Metrics == nil {
		return ""
	}
	return string(a.Metrics.Export())
}

// Analysis implements the "analysis" command.
func (a *API) Analysis() monitor.Result {
	if a.Analyzer == nil {
		return monitor.Result{}
	}
	return a.Analyzer.Analyze()
}

// BlockedIPs implements the "blocked_ips" command.
func (a *API) BlockedIPs() []string {
	if a.IPBlocker == nil {
		return nil
	}
	return a.IPBlocker.List()
}

// ReloadConfig implements the "reload_config" command (§6, SIGUSR1).
func (a *API) ReloadConfig(path string) error {
	if a.Config == nil {
		return fmt.Errorf("config reload is not available")
	}
	if path == "" {
		path = a.ConfigPath
	}
	_, err := a.Config.Reload(path)
	return err
}

// RestartWorkers implements the "restart_workers" command.
func (a *API) RestartWorkers() error {
	if a.Restarter == nil {
		return fmt.Errorf("worker restart is not available")
	}
	return a.Restarter.Restart()
}

// BlockIP implements the "block_ip" command.
func (a *API) BlockIP(ip string) error {
	if a.IPBlocker == nil {
		return fmt.Errorf("ip blocker is not available")
	}
	return a.IPBlocker.Block(ip)
}

// UnblockIP implements the "unblock_ip" command.
func (a *API) UnblockIP(ip string) error {
	if a.IPBlocker == nil {
		return fmt.Errorf("ip blocker is not available")
	}
	return a.IPBlocker.Unblock(ip)
}
