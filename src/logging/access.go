package logging

import (
	"log/slog"
	"time"
)

// AccessEntry is one request's access-log record (§4.9 step 6), kept as
// a distinct type from operational logging so it can be filtered,
// batched, or shipped separately.
type AccessEntry struct {
	Method     string
	Path       string
	Status     int
	Backend    string
	DurationMS float64
	BytesOut   int
	RemoteAddr string
	RequestID  string
}

// AccessLogger writes AccessEntry records through a dedicated slog
// logger, tagged so they can be routed separately from operational logs.
type AccessLogger struct {
	logger *slog.Logger
}

// NewAccessLogger derives an access logger from the process logger.
func NewAccessLogger(base *slog.Logger) *AccessLogger {
	return &AccessLogger{logger: base.With("log", "access")}
}

// Log emits one access-log line at info level.
func (a *AccessLogger) Log(e AccessEntry) {
	a.logger.Info("request",
		"method", e.Method,
		"path", e.Path,
		"status", e.Status,
		"backend", e.Backend,
		"duration_ms", e.DurationMS,
		"bytes", e.BytesOut,
		"remote", e.RemoteAddr,
		"request_id", e.RequestID,
	)
}

// Since is a small helper for computing AccessEntry.DurationMS from a
// start time, kept here so callers don't reimplement the conversion.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
