// Package server assembles the per-connection and per-request pipeline
// (§4.9): TLS termination, IP/GeoIP filtering, rate limiting, CORS, the WAF,
// routing, and response assembly, on top of valyala/fasthttp the way the
// teacher's HTTP source connector (connectors/http/httpsource.go) drives it.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fenwicklabs/phpedge/src/backend"
	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/fenwicklabs/phpedge/src/logging"
	"github.com/fenwicklabs/phpedge/src/security/validation"
	"github.com/fenwicklabs/phpedge/src/waf"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// HTTPMetrics is the narrow surface the pipeline needs for HTTP-level
// observations, kept separate from backend.RouterMetrics and waf.Metrics so
// this package never imports the metrics package directly.
type HTTPMetrics interface {
	ObserveHTTPRequest(method string, status int)
}

// MetricsExporter renders the current metrics snapshot as Prometheus text.
type MetricsExporter interface {
	Export() []byte
}

// Pipeline wires every per-request concern into one fasthttp.RequestHandler.
type Pipeline struct {
	ServerCfg config.ServerConfig

	Router      *backend.Router
	Backends    map[backend.Kind]backend.Backend
	WAF         *waf.Engine
	IPBlocker   *IPBlocker
	GeoIP       GeoIPFilter
	RateLimiter *RateLimiter
	CORS        *CORS
	Compressor  *Compressor
	Shutdown    *ShutdownCoordinator
	Access      *logging.AccessLogger
	Metrics     HTTPMetrics
	Exporter    MetricsExporter
	Logger      *slog.Logger

	listener net.Listener
}

// healthResponse mirrors §6's /_health JSON body.
type healthResponse struct {
	Status   string                    `json:"status"`
	Backends map[string]backendHealth `json:"backends"`
}

type backendHealth struct {
	Healthy   bool    `json:"healthy"`
	Message   string  `json:"message"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
}

// ListenAndServe binds ServerCfg.Address, wraps it in TLS when tlsConfig is
// non-nil, and serves until ctx is cancelled, at which point it drains
// in-flight requests through Shutdown before returning.
func (p *Pipeline) ListenAndServe(ctx context.Context, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", p.ServerCfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", p.ServerCfg.Address, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	p.listener = ln

	errCh := make(chan error, 1)
	go func() {
		errCh <- fasthttp.Serve(ln, p.Handle)
	}()

	select {
	case <-ctx.Done():
		p.Shutdown.Shutdown(context.Background())
		_ = ln.Close()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Handle is the fasthttp.RequestHandler for every accepted connection's
// requests, implementing §4.9's per-request steps in order.
func (p *Pipeline) Handle(ctx *fasthttp.RequestCtx) {
	if !p.Shutdown.Begin() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	defer p.Shutdown.End()

	remoteIP := ctx.RemoteIP()
	if p.IPBlocker != nil && p.IPBlocker.IsBlocked(remoteIP.String()) {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}

	if p.GeoIP != nil {
		allowed, err := p.GeoIP.Allowed(remoteIP)
		if err != nil {
			p.Logger.Warn("geoip lookup failed, failing open", "ip", remoteIP.String(), "error", err)
		} else if !allowed {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			return
		}
	}

	if p.RateLimiter != nil && !p.RateLimiter.Allow(remoteIP.String()) {
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
		return
	}

	if p.CORS != nil && p.CORS.Enabled() {
		if p.CORS.IsPreflight(ctx) {
			p.CORS.Preflight(ctx)
			return
		}
		p.CORS.Apply(ctx)
	}

	requestID := string(ctx.Request.Header.Peek("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx.Response.Header.Set("X-Request-Id", requestID)

	method := string(ctx.Method())
	path := string(ctx.Path())

	if method == fasthttp.MethodGet && p.ServerCfg.MetricsPath != "" && path == p.ServerCfg.MetricsPath {
		p.serveMetrics(ctx)
		return
	}
	if path == p.ServerCfg.HealthPath {
		p.serveHealth(ctx)
		return
	}

	start := time.Now()
	bodySize := len(ctx.PostBody())
	// A hard ceiling independent of ServerCfg.MaxBodyBytes, so a misconfigured
	// or absent limit can't let an oversized body reach a backend at all.
	if err := validation.ValidateMessageDataSize(bodySize); err != nil {
		ctx.SetStatusCode(fasthttp.StatusRequestEntityTooLarge)
		p.observe(method, fasthttp.StatusRequestEntityTooLarge, path, remoteIP.String(), requestID, start, "")
		return
	}
	if int64(bodySize) > p.ServerCfg.MaxBodyBytes {
		ctx.SetStatusCode(fasthttp.StatusRequestEntityTooLarge)
		p.observe(method, fasthttp.StatusRequestEntityTooLarge, path, remoteIP.String(), requestID, start, "")
		return
	}

	req := requestFromCtx(ctx)

	if p.WAF != nil {
		verdict, err := p.WAF.Evaluate(waf.RequestFields{
			Method:      req.Method,
			URI:         req.URI,
			QueryString: req.Query,
			Headers:     req.Headers,
			Body:        req.Body,
			UserAgent:   ctxHeader(req, "User-Agent"),
		})
		if err != nil {
			p.Logger.Error("waf evaluation failed", "request_id", requestID, "error", err)
		} else if !verdict.Allowed {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			ctx.SetBodyString("Forbidden: Request blocked by WAF")
			if p.Logger != nil && verdict.Matched != nil {
				p.Logger.Warn("waf blocked request", "request_id", requestID, "rule", verdict.Matched.ID)
			}
			p.observe(method, fasthttp.StatusForbidden, path, remoteIP.String(), requestID, start, "")
			return
		}
	}

	resp, rerr := p.Router.ExecuteWithMetrics(ctx, path, req)
	if rerr != nil {
		status := rerr.Kind.HTTPStatus()
		ctx.SetStatusCode(status)
		ctx.SetBodyString(rerr.Error())
		p.observe(method, status, path, remoteIP.String(), requestID, start, "")
		return
	}

	p.writeResponse(ctx, req, resp)
	p.observe(method, int(resp.Status), path, remoteIP.String(), requestID, start, "")
}

// writeResponse assembles the fasthttp response from a backend.Response,
// applying range and gzip handling when the client's headers allow it.
func (p *Pipeline) writeResponse(ctx *fasthttp.RequestCtx, req *backend.Request, resp *backend.Response) {
	for k, v := range resp.Headers {
		ctx.Response.Header.Set(k, v)
	}

	body := resp.Body
	status := int(resp.Status)

	if status == fasthttp.StatusOK && len(body) > 0 {
		if rangeHeader := string(ctx.Request.Header.Peek("Range")); rangeHeader != "" {
			size := int64(len(body))
			rng, ok, err := ParseRange(rangeHeader, size)
			if err != nil {
				ctx.Response.Header.Set("Content-Range", UnsatisfiableContentRangeHeader(size))
				ctx.SetStatusCode(fasthttp.StatusRequestedRangeNotSatisfiable)
				return
			}
			if ok {
				ctx.Response.Header.Set("Accept-Ranges", "bytes")
				ctx.Response.Header.Set("Content-Range", ContentRangeHeader(rng, size))
				ctx.Response.Header.Set("Content-Length", itoa64(rng.Len()))
				status = fasthttp.StatusPartialContent
				body = body[rng.Start : rng.End+1]
			}
		}
	}

	if p.Compressor != nil && status == fasthttp.StatusPartialContent {
		// Range responses are never compressed: byte offsets must stay valid.
	} else if p.Compressor != nil {
		contentType := resp.Headers["Content-Type"]
		acceptEncoding := ctxHeader(req, "Accept-Encoding")
		if p.Compressor.ShouldCompress(acceptEncoding, contentType, len(body)) {
			var buf strings.Builder
			if err := Compress(&buf, body); err == nil {
				ctx.Response.Header.Set("Content-Encoding", "gzip")
				ctx.Response.Header.Set("Content-Length", itoa64(int64(len(buf.String()))))
				ctx.SetStatusCode(status)
				if req.Method != "HEAD" {
					ctx.SetBodyString(buf.String())
				}
				return
			}
		}
	}

	ctx.SetStatusCode(status)
	if req.Method != "HEAD" {
		ctx.SetBody(body)
	}
}

func (p *Pipeline) observe(method string, status int, path, remoteAddr, requestID string, start time.Time, backendName string) {
	if p.Metrics != nil {
		p.Metrics.ObserveHTTPRequest(method, status)
	}
	if p.Access != nil {
		p.Access.Log(logging.AccessEntry{
			Method:     method,
			Path:       path,
			Status:     status,
			Backend:    backendName,
			DurationMS: logging.Since(start),
			RemoteAddr: remoteAddr,
			RequestID:  requestID,
		})
	}
}

func (p *Pipeline) serveMetrics(ctx *fasthttp.RequestCtx) {
	if p.Exporter == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/plain; version=0.0.4")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(p.Exporter.Export())
}

func (p *Pipeline) serveHealth(ctx *fasthttp.RequestCtx) {
	resp := healthResponse{Status: "ok", Backends: make(map[string]backendHealth, len(p.Backends))}
	allHealthy := true
	for kind, b := range p.Backends {
		hs := b.HealthCheck(ctx)
		resp.Backends[string(kind)] = backendHealth{Healthy: hs.Healthy, Message: hs.Message, LatencyMS: hs.LatencyMS}
		if !hs.Healthy {
			allHealthy = false
		}
	}
	if !allHealthy {
		resp.Status = "degraded"
	}

	body, err := json.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json")
	if allHealthy {
		ctx.SetStatusCode(fasthttp.StatusOK)
	} else {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
	ctx.SetBody(body)
}

// requestFromCtx adapts a fasthttp.RequestCtx into the transport-agnostic
// backend.Request shape shared by all three backends.
func requestFromCtx(ctx *fasthttp.RequestCtx) *backend.Request {
	headers := make(map[string]string)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		if existing, ok := headers[key]; ok {
			headers[key] = existing + "," + string(v)
		} else {
			headers[key] = string(v)
		}
	})

	return &backend.Request{
		Method:     string(ctx.Method()),
		URI:        string(ctx.Path()),
		Query:      string(ctx.QueryArgs().QueryString()),
		Headers:    headers,
		Body:       ctx.PostBody(),
		RemoteAddr: ctx.RemoteAddr().String(),
	}
}

func ctxHeader(req *backend.Request, name string) string {
	v, _ := req.Header(name)
	return v
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
