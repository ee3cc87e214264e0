// Package monitor keeps a bounded in-memory window of recent requests and
// derives the admin socket's "analysis" report from it (per-endpoint
// stats, slow requests, suspicious IP activity), grounded on
// original_source/src/monitor/analyzer.rs and collector.rs.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// maxEntries bounds memory the way the original kept only the latest 1000
// log lines.
const maxEntries = 1000

// slowThresholdMS flags a request as slow in the analysis report.
const slowThresholdMS = 100.0

// RequestEntry is one observed request, the fields the analyzer needs out
// of logging.AccessEntry plus a timestamp for recency.
type RequestEntry struct {
	Method     string
	Path       string
	Status     int
	DurationMS float64
	RemoteAddr string
	At         time.Time
}

// Analyzer is a bounded window of recent RequestEntry values, safe for
// concurrent Record and Analyze calls. The admin socket calls Analyze; the
// request pipeline in package server does not call Record, so entries
// arrive only from callers that Record them directly.
type Analyzer struct {
	mu      sync.Mutex
	entries []RequestEntry
}

// NewAnalyzer builds an empty Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{entries: make([]RequestEntry, 0, maxEntries)}
}

// Record appends one request, evicting the oldest entry once the window is
// full.
func (a *Analyzer) Record(e RequestEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) >= maxEntries {
		copy(a.entries, a.entries[1:])
		a.entries = a.entries[:len(a.entries)-1]
	}
	a.entries = append(a.entries, e)
}

// EndpointStats summarizes one path's recent traffic.
type EndpointStats struct {
	Path         string  `json:"path"`
	Count        int     `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	ErrorCount   int     `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
}

// SuspiciousActivity flags a remote address with an unusual error rate.
type SuspiciousActivity struct {
	IPAddress   string `json:"ip_address"`
	EventType   string `json:"event_type"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// Result is the admin socket's "analysis" command payload.
type Result struct {
	TotalRequests      int                  `json:"total_requests"`
	ErrorCount         int                  `json:"error_count"`
	TopEndpoints       []EndpointStats      `json:"top_endpoints"`
	SlowRequests       []RequestEntry       `json:"slow_requests"`
	SuspiciousActivity []SuspiciousActivity `json:"suspicious_activity"`
}

// Analyze computes Result over the current window.
func (a *Analyzer) Analyze() Result {
	a.mu.Lock()
	entries := make([]RequestEntry, len(a.entries))
	copy(entries, a.entries)
	a.mu.Unlock()

	errCount := 0
	perPath := make(map[string]*EndpointStats)
	perIPErrors := make(map[string]int)

	for _, e := range entries {
		if e.Status >= 400 {
			errCount++
			perIPErrors[e.RemoteAddr]++
		}
		s, ok := perPath[e.Path]
		if !ok {
			s = &EndpointStats{Path: e.Path}
			perPath[e.Path] = s
		}
		s.Count++
		s.AvgDurationMS += e.DurationMS
		if e.Status >= 400 {
			s.ErrorCount++
		}
	}

	endpoints := make([]EndpointStats, 0, len(perPath))
	for _, s := range perPath {
		if s.Count > 0 {
			s.AvgDurationMS /= float64(s.Count)
			s.ErrorRate = float64(s.ErrorCount) / float64(s.Count)
		}
		endpoints = append(endpoints, *s)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Count > endpoints[j].Count })
	if len(endpoints) > 10 {
		endpoints = endpoints[:10]
	}

	slow := make([]RequestEntry, 0, len(entries))
	for _, e := range entries {
		if e.DurationMS > slowThresholdMS {
			slow = append(slow, e)
		}
	}
	sort.Slice(slow, func(i, j int) bool { return slow[i].DurationMS > slow[j].DurationMS })
	if len(slow) > 10 {
		slow = slow[:10]
	}

	suspicious := make([]SuspiciousActivity, 0, len(perIPErrors))
	for ip, count := range perIPErrors {
		if count < 5 {
			continue
		}
		suspicious = append(suspicious, SuspiciousActivity{
			IPAddress:   ip,
			EventType:   "elevated_error_rate",
			Count:       count,
			Description: "repeated 4xx/5xx responses from this address",
		})
	}
	sort.Slice(suspicious, func(i, j int) bool { return suspicious[i].Count > suspicious[j].Count })

	return Result{
		TotalRequests:      len(entries),
		ErrorCount:         errCount,
		TopEndpoints:       endpoints,
		SlowRequests:       slow,
		SuspiciousActivity: suspicious,
	}
}
