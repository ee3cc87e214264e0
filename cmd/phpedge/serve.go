package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenwicklabs/phpedge/src/admin"
	"github.com/fenwicklabs/phpedge/src/backend"
	"github.com/fenwicklabs/phpedge/src/breaker"
	"github.com/fenwicklabs/phpedge/src/common/tlsconfig"
	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/fenwicklabs/phpedge/src/deployment"
	"github.com/fenwicklabs/phpedge/src/logging"
	"github.com/fenwicklabs/phpedge/src/metrics"
	"github.com/fenwicklabs/phpedge/src/monitor"
	"github.com/fenwicklabs/phpedge/src/php"
	"github.com/fenwicklabs/phpedge/src/server"
	"github.com/fenwicklabs/phpedge/src/upstream"
	"github.com/fenwicklabs/phpedge/src/waf"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the phpedge front-end server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe boots every component in §4's dependency order: the embedded
// module (if enabled) before its worker pool, the router before the
// pipeline, the pipeline before the listener, the admin socket alongside,
// then blocks until SIGTERM/SIGINT drains the process (§4.13).
func runServe(ctx context.Context) error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return fmt.Errorf("loading bootstrap env: %w", err)
	}
	cfg, err := config.Load(envCfg)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	snapshot := config.NewSnapshot(cfg)

	logger := logging.Init(os.Stdout, cfg.Logging.Level)
	access := logging.NewAccessLogger(logger)

	coll := metrics.New(cfg.Metrics.Namespace)

	var sharedUpstreamPool *upstream.Pool
	if len(cfg.Upstreams) > 0 {
		sharedUpstreamPool = buildUpstreamPool(cfg.Upstreams)
	}

	backends, cleanup, err := buildBackends(cfg, sharedUpstreamPool, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	rules, defKind, err := buildRoutes(cfg.Routes)
	if err != nil {
		return fmt.Errorf("compiling routes: %w", err)
	}
	router := backend.NewRouter(rules, backends, defKind, coll)

	wafEngine, err := buildWAF(cfg.WAF, coll)
	if err != nil {
		return fmt.Errorf("compiling waf rules: %w", err)
	}

	shutdownCoord := server.NewShutdownCoordinator(cfg.Shutdown, logger)
	ipBlocker := server.NewIPBlocker()

	var rateLimiter *server.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	cors := server.NewCORS(cfg.CORS)

	var geo server.GeoIPFilter = server.NoopGeoIP{}
	if cfg.GeoIP.Enabled {
		geo = &server.ListFilter{
			AllowList: cfg.GeoIP.AllowList,
			DenyList:  cfg.GeoIP.DenyList,
			ResolveCountry: func(net.IP) (string, error) {
				// No MaxMind reader ships in this tree (see DESIGN.md);
				// this resolver always errors, so the pipeline fails open.
				return "", fmt.Errorf("geoip database not configured")
			},
		}
	}

	pipeline := &server.Pipeline{
		ServerCfg:   cfg.Server,
		Router:      router,
		Backends:    backends,
		WAF:         wafEngine,
		IPBlocker:   ipBlocker,
		GeoIP:       geo,
		RateLimiter: rateLimiter,
		CORS:        cors,
		Compressor:  server.NewCompressor(cfg.Static.CompressMin),
		Shutdown:    shutdownCoord,
		Access:      access,
		Metrics:     coll,
		Exporter:    coll,
		Logger:      logger,
	}

	analyzer := monitor.NewAnalyzer()

	adminAPI := &admin.API{
		StartedAt:  time.Now(),
		ConfigPath: envCfg.ConfigFilePath,
		Shutdown:   shutdownCoord,
		IPBlocker:  ipBlocker,
		Metrics:    coll,
		Analyzer:   analyzer,
		Config:     snapshot,
	}
	if eb, ok := backends[backend.KindEmbedded].(*backend.EmbeddedBackend); ok {
		if wp, ok := eb.Executor.(admin.WorkerPool); ok {
			adminAPI.Workers = wp
		}
	}

	var adminSrv *admin.Server
	if cfg.Server.AdminSocket != "" {
		adminSrv = &admin.Server{SocketPath: cfg.Server.AdminSocket, API: adminAPI}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				logger.Error("admin socket exited", "error", err)
			}
		}()
		defer adminSrv.Close()
	}

	if len(cfg.Upstreams) > 0 {
		startUpstreamPool(ctx, cfg, sharedUpstreamPool, coll, logger)
	}

	var tlsServerConf *tls.Config
	if cfg.TLS.Enabled {
		tc := &tlsconfig.Config{
			Enabled:    cfg.TLS.Enabled,
			CertFile:   cfg.TLS.CertFile,
			KeyFile:    cfg.TLS.KeyFile,
			CACertFile: cfg.TLS.CACertFile,
			ClientAuth: cfg.TLS.ClientAuth,
			MinVersion: cfg.TLS.MinVersion,
		}
		tlsServerConf, err = tc.BuildServerConfig()
		if err != nil {
			return fmt.Errorf("loading tls config: %w", err)
		}
		tlsServerConf.NextProtos = []string{"h2", "http/1.1"}
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for range usr1 {
			logger.Info("reloading config", "path", envCfg.ConfigFilePath)
			if _, err := snapshot.Reload(envCfg.ConfigFilePath); err != nil {
				logger.Error("config reload failed, keeping previous snapshot", "error", err)
			}
		}
	}()

	if cfg.Server.RedirectHTTP != "" && cfg.TLS.Enabled {
		go serveRedirect(sigCtx, cfg.Server.RedirectHTTP, cfg.Server.Address, logger)
	}

	logger.Info("phpedge listening", "address", cfg.Server.Address, "tls", cfg.TLS.Enabled)
	return pipeline.ListenAndServe(sigCtx, tlsServerConf)
}

// buildBackends constructs the Embedded, FastCGI, and Static backends that
// are enabled in cfg, returning a cleanup func that runs the registered
// shutdowns in reverse order of construction: the deployment variant pools,
// then the FastCGI connection pool, then the embedded worker pool (and its
// module), mirroring §4.5's module_shutdown-only-after-every-worker-exits
// contract.
func buildBackends(cfg *config.Config, upstreamPool *upstream.Pool, logger *slog.Logger) (map[backend.Kind]backend.Backend, func(), error) {
	backends := make(map[backend.Kind]backend.Backend)
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.PHP.Enabled {
		module, err := php.LoadModule(cfg.PHP.LibraryPath, cfg.PHP.LibraryDir, cfg.PHP.LibraryHash)
		if err != nil {
			return nil, cleanup, fmt.Errorf("loading embedded interpreter module: %w", err)
		}
		pool, err := php.NewWorkerPool(module, cfg.PHP.PoolSize, cfg.PHP.MaxRequestsPerWorker)
		if err != nil {
			return nil, cleanup, fmt.Errorf("starting worker pool: %w", err)
		}
		cleanups = append(cleanups, pool.Shutdown)
		backends[backend.KindEmbedded] = &backend.EmbeddedBackend{
			Executor:     pool,
			DocumentRoot: cfg.PHP.DocumentRoot,
			PoolSize:     cfg.PHP.PoolSize,
		}
	}

	if cfg.FastCGI.Enabled {
		connPool := php.NewConnPool(php.PoolConfig{
			Network:         cfg.FastCGI.Network,
			Address:         cfg.FastCGI.Address,
			MaxSize:         cfg.FastCGI.MaxSize,
			MinIdle:         cfg.FastCGI.MinIdle,
			MaxIdle:         cfg.FastCGI.MaxIdle,
			MaxLifetime:     cfg.FastCGI.MaxLifetime,
			ConnectTimeout:  cfg.FastCGI.ConnectTimeout,
			EnableKeepalive: cfg.FastCGI.EnableKeepalive,
		})
		cleanups = append(cleanups, connPool.Close)
		cb := breaker.New(breaker.Config{
			FailureThreshold:  cfg.FastCGI.Breaker.FailureThreshold,
			SuccessThreshold:  cfg.FastCGI.Breaker.SuccessThreshold,
			Timeout:           cfg.FastCGI.Breaker.Timeout,
			HalfOpenMaxProbes: cfg.FastCGI.Breaker.HalfOpenMaxProbes,
		})
		fcb := &backend.FastCGIBackend{
			Pool:           connPool,
			Codec:          php.Codec{},
			Breaker:        cb,
			DocumentRoot:   cfg.FastCGI.DocumentRoot,
			RequestTimeout: cfg.FastCGI.RequestTimeout,
			ExtraParams:    cfg.FastCGI.ExtraParams,
		}

		if sel, pools, rec, selCleanup := buildDeploymentSelector(cfg, upstreamPool); sel != nil {
			fcb.Selector = sel
			fcb.Pools = pools
			fcb.Recorder = rec
			cleanups = append(cleanups, selCleanup)
		}

		backends[backend.KindFastCGI] = fcb
	}

	if cfg.Static.Root != "" {
		sb, err := backend.NewStaticBackend(cfg.Static.Root, cfg.Static.IndexFiles)
		if err != nil {
			return nil, cleanup, fmt.Errorf("resolving static root: %w", err)
		}
		backends[backend.KindStatic] = sb
	}

	if len(backends) == 0 {
		return nil, cleanup, fmt.Errorf("no backend enabled in config: enable at least one of php/fastcgi/static")
	}

	return backends, cleanup, nil
}

func buildRoutes(routes []config.RouteConfig) ([]backend.RoutingRule, backend.Kind, error) {
	rules := make([]backend.RoutingRule, 0, len(routes))
	for _, r := range routes {
		pattern, err := compilePattern(r.Kind, r.Pattern)
		if err != nil {
			return nil, "", fmt.Errorf("route %q: %w", r.Pattern, err)
		}
		rules = append(rules, backend.RoutingRule{
			Pattern:  pattern,
			Backend:  backend.Kind(r.Backend),
			Priority: r.Priority,
		})
	}
	return rules, backend.KindStatic, nil
}

func compilePattern(kind, pattern string) (backend.PathPattern, error) {
	switch kind {
	case "exact":
		return backend.NewExactPattern(pattern), nil
	case "prefix":
		return backend.NewPrefixPattern(pattern), nil
	case "suffix":
		return backend.NewSuffixPattern(pattern), nil
	case "regex":
		return backend.NewRegexPattern(pattern)
	default:
		return nil, fmt.Errorf("unknown route kind %q", kind)
	}
}

func buildWAF(cfg config.WAFConfig, coll *metrics.Collector) (*waf.Engine, error) {
	rules := make([]*waf.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		var rule *waf.Rule
		var err error
		if rc.Expr != "" {
			rule, err = waf.NewExprRule(rc.ID, rc.Description, rc.Expr, waf.Action(rc.Action), rc.Severity)
		} else {
			rule, err = waf.NewRegexRule(rc.ID, rc.Description, waf.Target(rc.Target), rc.Pattern, waf.Action(rc.Action), rc.Severity)
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "off"
	}
	return waf.NewEngine(waf.Mode(mode), rules, coll), nil
}

// buildUpstreamPool constructs the shared upstream.Pool once so the health
// checker and the FastCGI deployment selector (when no canary/A-B config is
// set) observe and act on the same live health state, rather than each
// tracking its own copy.
func buildUpstreamPool(configured []config.UpstreamConfig) *upstream.Pool {
	ups := make([]*upstream.Upstream, 0, len(configured))
	for _, u := range configured {
		ups = append(ups, upstream.NewUpstream(u.Name, u.URL, u.Weight, u.Enabled))
	}
	return upstream.NewPool(ups)
}

// upstreamPoolSelector adapts upstream.Pool's algorithm-based Select into the
// backend.UpstreamSelector shape the FastCGI deployment wiring expects,
// satisfying §4.12's selection algorithms end-to-end when no canary or A/B
// split is configured (§4.9 "route to backend").
type upstreamPoolSelector struct {
	pool *upstream.Pool
	algo upstream.Algorithm
}

func (s *upstreamPoolSelector) Select(_ string) string {
	u, err := s.pool.Select(s.algo)
	if err != nil {
		return ""
	}
	return u.Name
}

// buildDeploymentSelector wires whichever traffic-split mechanism is
// configured into a backend.UpstreamSelector plus a per-variant dialer pool:
// canary rollout takes priority, then the first configured A/B test, then
// plain upstream.Pool selection over every configured upstream. Returns a
// nil selector when none of the three is configured, or when the canary or
// A/B config fails to build, leaving FastCGIBackend on its single fixed Pool
// exactly as before.
func buildDeploymentSelector(cfg *config.Config, pool *upstream.Pool) (backend.UpstreamSelector, map[string]backend.Dialer, backend.OutcomeRecorder, func()) {
	byName := make(map[string]config.UpstreamConfig, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		byName[u.Name] = u
	}

	switch {
	case cfg.Deployment.Canary != nil:
		mgr, err := deployment.NewCanaryManager(*cfg.Deployment.Canary, nil)
		if err != nil {
			return nil, nil, nil, func() {}
		}
		pools, cleanup := buildVariantDialers(cfg, byName, []string{
			cfg.Deployment.Canary.StableUpstream,
			cfg.Deployment.Canary.CanaryUpstream,
		})
		stop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(cfg.Deployment.Canary.StepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					mgr.Tick()
				}
			}
		}()
		return mgr, pools, mgr, func() {
			close(stop)
			cleanup()
		}

	case len(cfg.Deployment.ABTests) > 0:
		abCfg := cfg.Deployment.ABTests[0]
		ab, err := deployment.NewABTest(abCfg)
		if err != nil {
			return nil, nil, nil, func() {}
		}
		pools, cleanup := buildVariantDialers(cfg, byName, abCfg.Variants)
		return ab, pools, ab, cleanup

	case pool != nil && len(cfg.Upstreams) > 0:
		names := make([]string, 0, len(cfg.Upstreams))
		for _, u := range cfg.Upstreams {
			names = append(names, u.Name)
		}
		pools, cleanup := buildVariantDialers(cfg, byName, names)
		sel := &upstreamPoolSelector{pool: pool, algo: upstream.Algorithm(cfg.Deployment.Algorithm)}
		return sel, pools, nil, cleanup

	default:
		return nil, nil, nil, func() {}
	}
}

// buildVariantDialers opens one php.ConnPool per named upstream, dialing the
// host:port parsed from its configured URL over the same FastCGI pool
// settings as the default connection (§4.3), skipping any name with no
// matching config entry.
func buildVariantDialers(cfg *config.Config, byName map[string]config.UpstreamConfig, names []string) (map[string]backend.Dialer, func()) {
	pools := make(map[string]backend.Dialer, len(names))
	var all []*php.ConnPool
	for _, name := range names {
		u, ok := byName[name]
		if !ok {
			continue
		}
		if _, ok := pools[name]; ok {
			continue
		}
		address := u.URL
		if parsed, err := url.Parse(u.URL); err == nil && parsed.Host != "" {
			address = parsed.Host
		}
		cp := php.NewConnPool(php.PoolConfig{
			Network:         cfg.FastCGI.Network,
			Address:         address,
			MaxSize:         cfg.FastCGI.MaxSize,
			MinIdle:         cfg.FastCGI.MinIdle,
			MaxIdle:         cfg.FastCGI.MaxIdle,
			MaxLifetime:     cfg.FastCGI.MaxLifetime,
			ConnectTimeout:  cfg.FastCGI.ConnectTimeout,
			EnableKeepalive: cfg.FastCGI.EnableKeepalive,
		})
		pools[name] = cp
		all = append(all, cp)
	}
	return pools, func() {
		for _, cp := range all {
			cp.Close()
		}
	}
}

func startUpstreamPool(ctx context.Context, cfg *config.Config, pool *upstream.Pool, coll *metrics.Collector, logger *slog.Logger) {
	checker := &upstream.HealthChecker{
		Pool:               pool,
		Prober:             upstream.NewHTTPProber(),
		Path:               cfg.Deployment.HealthCheckPath,
		Interval:           cfg.Deployment.HealthCheckInterval,
		Timeout:            cfg.Deployment.HealthCheckTimeout,
		HealthyThreshold:   cfg.Deployment.HealthyThreshold,
		UnhealthyThreshold: cfg.Deployment.UnhealthyThreshold,
	}
	go checker.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Deployment.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, u := range pool.All() {
					coll.SetUpstreamHealth(u.Name, u.Healthy())
					coll.SetUpstreamActive(u.Name, u.ActiveConnections())
				}
			}
		}
	}()
}

// serveRedirect answers every request on addr with a 301 to the same host
// over HTTPS, the optional secondary HTTP-port of §6.
func serveRedirect(ctx context.Context, addr, httpsAddr string, logger *slog.Logger) {
	_, port, _ := net.SplitHostPort(httpsAddr)
	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.Host)
			if err != nil {
				host = r.Host
			}
			target := "https://" + host
			if port != "" && port != "443" {
				target += ":" + port
			}
			target += r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		}),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http redirect listener exited", "error", err)
	}
}
