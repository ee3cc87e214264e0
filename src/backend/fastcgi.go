package backend

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fenwicklabs/phpedge/src/common"
)

// Dialer is the narrow surface FastCGIBackend needs from php.ConnPool.
type Dialer interface {
	Get(ctx context.Context) (net.Conn, error)
	Put(conn net.Conn)
	Drop(conn net.Conn)
}

// CircuitBreaker is the narrow surface FastCGIBackend needs from
// breaker.Breaker.
type CircuitBreaker interface {
	IsOpen() bool
	RecordSuccess()
	RecordFailure()
}

// WireCodec abstracts the php package's FastCGI framing so backend doesn't
// import php directly (php has no reason to know about Backend).
type WireCodec interface {
	EncodeRequest(conn net.Conn, requestID uint16, params map[string]string, body []byte) error
	ReadResponse(conn net.Conn, requestID uint16) (stdout, stderr []byte, err error)
}

// FastCGIBackend executes requests against an out-of-process PHP-FPM-style
// upstream over a pooled FastCGI connection, guarded by a circuit breaker
// (§4.2, §4.3, §4.4).
type FastCGIBackend struct {
	Pool           Dialer
	Codec          WireCodec
	Breaker        CircuitBreaker
	DocumentRoot   string
	RequestTimeout time.Duration
	// ExtraParams are static CGI variables merged into every request's
	// param set (config.FastCGIConfig.ExtraParams); computed variables
	// always win on key collision.
	ExtraParams map[string]string

	// Selector, when set, picks a traffic-split variant per request
	// (deployment.Splitter/ABTest/CanaryManager all satisfy this) keyed
	// by the caller's remote address. Pools maps a variant name to the
	// Dialer that serves it; a variant with no matching Pools entry
	// falls back to Pool. Neither field is required: a FastCGIBackend
	// with no Selector behaves exactly as before (§4.9 "route to
	// backend" with a single fixed upstream).
	Selector UpstreamSelector
	Pools    map[string]Dialer
	// Recorder, when set, is told the outcome of every selected-variant
	// request, letting a CanaryManager's error-rate rollback decision
	// (§C.5) observe real traffic instead of only its own synthetic Tick.
	Recorder OutcomeRecorder
}

// UpstreamSelector is the narrow surface FastCGIBackend needs from
// deployment.Splitter / deployment.ABTest / deployment.CanaryManager to
// pick a named variant per request (§4.11).
type UpstreamSelector interface {
	Select(identifier string) string
}

// OutcomeRecorder is the narrow surface needed from deployment.ABTest /
// deployment.CanaryManager to feed request outcomes back into a running
// traffic split.
type OutcomeRecorder interface {
	RecordRequest(variant string, success bool)
}

func (f *FastCGIBackend) Kind() Kind { return KindFastCGI }

// buildParams constructs the CGI-style variable set from §4.2 step 2:
// SCRIPT_FILENAME/REQUEST_METHOD/REQUEST_URI/QUERY_STRING/REMOTE_ADDR/
// SERVER_PROTOCOL/GATEWAY_INTERFACE, plus HTTP_* for every header except
// Content-Type/Content-Length which pass through unprefixed.
func (f *FastCGIBackend) buildParams(req *Request) map[string]string {
	scriptPath := req.URI
	if idx := strings.IndexByte(scriptPath, '?'); idx >= 0 {
		scriptPath = scriptPath[:idx]
	}
	decoded, err := url.PathUnescape(scriptPath)
	if err == nil {
		scriptPath = decoded
	}
	scriptFilename := filepath.Join(f.DocumentRoot, filepath.FromSlash(scriptPath))

	params := common.CopyMap(f.ExtraParams, nil)
	for k, v := range map[string]string{
		"SCRIPT_FILENAME":   scriptFilename,
		"REQUEST_METHOD":    req.Method,
		"REQUEST_URI":       req.URI,
		"QUERY_STRING":      req.Query,
		"REMOTE_ADDR":       req.RemoteAddr,
		"SERVER_PROTOCOL":   "HTTP/1.1",
		"GATEWAY_INTERFACE": "CGI/1.1",
		"REDIRECT_STATUS":   "200",
	} {
		params[k] = v
	}

	for name, value := range req.Headers {
		upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		switch upper {
		case "CONTENT_TYPE", "CONTENT_LENGTH":
			params[upper] = value
		default:
			params["HTTP_"+upper] = value
		}
	}
	if _, ok := params["CONTENT_LENGTH"]; !ok {
		params["CONTENT_LENGTH"] = strconv.Itoa(len(req.Body))
	}
	return params
}

func (f *FastCGIBackend) Execute(ctx context.Context, req *Request) (*Response, *Error) {
	start := time.Now()

	if f.Breaker != nil && f.Breaker.IsOpen() {
		return nil, NewError(ErrConnectionFailed, fmt.Errorf("circuit breaker open"))
	}

	variant := ""
	dialer := f.Pool
	if f.Selector != nil {
		variant = f.Selector.Select(req.RemoteAddr)
		if p, ok := f.Pools[variant]; ok {
			dialer = p
		}
	}
	record := func(success bool) {
		if f.Recorder != nil && variant != "" {
			f.Recorder.RecordRequest(variant, success)
		}
	}

	conn, err := dialer.Get(ctx)
	if err != nil {
		if f.Breaker != nil {
			f.Breaker.RecordFailure()
		}
		record(false)
		return nil, NewError(ErrConnectionFailed, err)
	}

	if f.RequestTimeout > 0 {
		conn.SetDeadline(time.Now().Add(f.RequestTimeout)) //nolint:errcheck
	}

	params := f.buildParams(req)
	const requestID = 1

	if err := f.Codec.EncodeRequest(conn, requestID, params, req.Body); err != nil {
		dialer.Drop(conn)
		if f.Breaker != nil {
			f.Breaker.RecordFailure()
		}
		record(false)
		return nil, NewError(ErrIOError, err)
	}

	stdout, _, err := f.Codec.ReadResponse(conn, requestID)
	if err != nil {
		dialer.Drop(conn)
		if f.Breaker != nil {
			f.Breaker.RecordFailure()
		}
		record(false)
		kind := ErrProtocolError
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			kind = ErrTimeout
		}
		return nil, NewError(kind, err)
	}

	dialer.Put(conn)
	if f.Breaker != nil {
		f.Breaker.RecordSuccess()
	}
	record(true)

	status, headers, body := ParseCGIOutput(stdout)
	return &Response{
		Status:     status,
		Headers:    headers,
		Body:       body,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func (f *FastCGIBackend) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	conn, err := f.Pool.Get(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error(), LatencyMS: latency}
	}
	f.Pool.Put(conn)
	return HealthStatus{Healthy: true, Message: "ok", LatencyMS: latency}
}
