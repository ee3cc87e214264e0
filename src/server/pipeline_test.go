package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/fenwicklabs/phpedge/src/backend"
	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/fenwicklabs/phpedge/src/logging"
	"github.com/fenwicklabs/phpedge/src/server"
	"github.com/fenwicklabs/phpedge/src/waf"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type fakeBackend struct {
	status uint16
	body   []byte
}

func (f *fakeBackend) Kind() backend.Kind { return backend.KindStatic }
func (f *fakeBackend) Execute(ctx context.Context, req *backend.Request) (*backend.Response, *backend.Error) {
	return &backend.Response{Status: f.status, Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"}, Body: f.body}, nil
}
func (f *fakeBackend) HealthCheck(ctx context.Context) backend.HealthStatus {
	return backend.HealthStatus{Healthy: true, Message: "ok"}
}

func newTestPipeline(t *testing.T) *server.Pipeline {
	t.Helper()
	rule, err := backend.CompileRule("prefix", "/", "static", 0)
	require.NoError(t, err)
	fb := &fakeBackend{status: 200, body: []byte("hello")}
	router := backend.NewRouter([]backend.RoutingRule{rule}, map[backend.Kind]backend.Backend{backend.KindStatic: fb}, backend.KindStatic, nil)

	return &server.Pipeline{
		ServerCfg: config.ServerConfig{
			Address:      "127.0.0.1:0",
			MaxBodyBytes: 1024,
			MetricsPath:  "/metrics",
			HealthPath:   "/_health",
		},
		Router:    router,
		Backends:  map[backend.Kind]backend.Backend{backend.KindStatic: fb},
		IPBlocker: server.NewIPBlocker(),
		GeoIP:     server.NoopGeoIP{},
		Shutdown:  server.NewShutdownCoordinator(config.ShutdownConfig{Timeout: time.Second}, nil),
		Access:    logging.NewAccessLogger(logging.Init(nil, "error")),
	}
}

func newReqCtx(method, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestPipelineHealthEndpoint(t *testing.T) {
	p := newTestPipeline(t)
	ctx := newReqCtx(fasthttp.MethodGet, "/_health")
	p.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestPipelineBlocksKnownBadIP(t *testing.T) {
	p := newTestPipeline(t)
	// A bare *fasthttp.RequestCtx with no real connection reports 0.0.0.0
	// as its remote IP; block that address to exercise the check.
	require.NoError(t, p.IPBlocker.Block("0.0.0.0"))

	ctx := newReqCtx(fasthttp.MethodGet, "/")
	ctx.Request.Header.SetUserAgentBytes([]byte("test"))
	p.Handle(ctx)
	require.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestPipelineRoutesHappyPath(t *testing.T) {
	p := newTestPipeline(t)
	ctx := newReqCtx(fasthttp.MethodGet, "/index.html")
	p.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "hello", string(ctx.Response.Body()))
}

func TestPipelineRejectsOversizedBody(t *testing.T) {
	p := newTestPipeline(t)
	ctx := newReqCtx(fasthttp.MethodPost, "/")
	ctx.Request.SetBody(make([]byte, 2048))
	p.Handle(ctx)
	require.Equal(t, fasthttp.StatusRequestEntityTooLarge, ctx.Response.StatusCode())
}

func TestPipelineWAFBlocksMatchingRule(t *testing.T) {
	p := newTestPipeline(t)
	rule, err := waf.NewRegexRule("r1", "blocks union select", waf.TargetQueryString, `(?i)union(\+|\s)+select`, waf.ActionBlock, 5)
	require.NoError(t, err)
	p.WAF = waf.NewEngine(waf.ModeBlock, []*waf.Rule{rule}, nil)

	ctx := newReqCtx(fasthttp.MethodGet, "/?q=union+select+1")
	p.Handle(ctx)
	require.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}
