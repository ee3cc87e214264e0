package server

import (
	"strconv"
	"strings"

	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/valyala/fasthttp"
)

// CORS applies cross-origin headers and preflight handling per the
// configured allow-lists, grounded on original_source/src/server/cors.rs's
// is_origin_allowed/handle_preflight/add_cors_headers split.
type CORS struct {
	cfg config.CORSConfig
}

// NewCORS builds a CORS handler from its config.
func NewCORS(cfg config.CORSConfig) *CORS {
	return &CORS{cfg: cfg}
}

// Enabled reports whether CORS processing should run at all.
func (c *CORS) Enabled() bool {
	return c.cfg.Enabled
}

func (c *CORS) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Apply adds the relevant Access-Control-* headers for a simple (non-
// preflight) request. It is a no-op when the origin isn't allowed.
func (c *CORS) Apply(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if !c.originAllowed(origin) {
		return
	}
	ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
	ctx.Response.Header.Set("Vary", "Origin")
	if len(c.cfg.AllowedHeaders) > 0 {
		ctx.Response.Header.Set("Access-Control-Expose-Headers", strings.Join(c.cfg.AllowedHeaders, ", "))
	}
}

// IsPreflight reports whether ctx is a CORS preflight request.
func (c *CORS) IsPreflight(ctx *fasthttp.RequestCtx) bool {
	return string(ctx.Method()) == fasthttp.MethodOptions &&
		len(ctx.Request.Header.Peek("Access-Control-Request-Method")) > 0
}

// Preflight writes the OPTIONS response for an allowed origin, or sets a 403
// status when the origin is not on the allow list.
func (c *CORS) Preflight(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if !c.originAllowed(origin) {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}

	ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
	ctx.Response.Header.Set("Vary", "Origin")
	if len(c.cfg.AllowedMethods) > 0 {
		ctx.Response.Header.Set("Access-Control-Allow-Methods", strings.Join(c.cfg.AllowedMethods, ", "))
	}
	if len(c.cfg.AllowedHeaders) > 0 {
		ctx.Response.Header.Set("Access-Control-Allow-Headers", strings.Join(c.cfg.AllowedHeaders, ", "))
	}
	if c.cfg.MaxAge > 0 {
		ctx.Response.Header.Set("Access-Control-Max-Age", strconv.Itoa(c.cfg.MaxAge))
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
