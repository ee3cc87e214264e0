package config

import "time"

// EnvConfig captures process bootstrap settings sourced from the
// environment, ahead of the main config file being parsed.
type EnvConfig struct {
	ConfigFilePath string `env:"PHPEDGE_CONFIG_FILE_PATH" default:"/etc/phpedge/config.yaml" validate:"omitempty,filepath"`
	ConfigContent  string `env:"PHPEDGE_CONFIG_CONTENT" validate:"omitempty"`
	ConfigFormat   string `env:"PHPEDGE_CONFIG_FORMAT" validate:"omitempty,oneof=yaml yml json"`
}

// Config is the full, validated configuration tree for a phpedge process.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server" validate:"required"`
	TLS        TLSConfig        `yaml:"tls" json:"tls"`
	PHP        EmbeddedConfig   `yaml:"php" json:"php"`
	FastCGI    FastCGIConfig    `yaml:"fastcgi" json:"fastcgi"`
	Static     StaticConfig     `yaml:"static" json:"static"`
	Routes     []RouteConfig    `yaml:"routes" json:"routes"`
	WAF        WAFConfig        `yaml:"waf" json:"waf"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit" json:"rateLimit"`
	GeoIP      GeoIPConfig      `yaml:"geoip" json:"geoip"`
	CORS       CORSConfig       `yaml:"cors" json:"cors"`
	Upstreams  []UpstreamConfig `yaml:"upstreams" json:"upstreams"`
	Deployment DeploymentConfig `yaml:"deployment" json:"deployment"`
	Admin      AdminConfig      `yaml:"admin" json:"admin"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Shutdown   ShutdownConfig   `yaml:"shutdown" json:"shutdown"`
}

type ServerConfig struct {
	Address        string `yaml:"address" json:"address" validate:"required"`
	RedirectHTTP   string `yaml:"redirectHttp" json:"redirectHttp"`
	HTTP2          bool   `yaml:"http2" json:"http2" default:"true"`
	AdminSocket    string `yaml:"adminSocket" json:"adminSocket"`
	MaxBodyBytes   int64  `yaml:"maxBodyBytes" json:"maxBodyBytes" default:"10485760" validate:"gt=0"`
	MetricsPath    string `yaml:"metricsPath" json:"metricsPath" default:"/metrics"`
	HealthPath     string `yaml:"healthPath" json:"healthPath" default:"/_health"`
}

type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" default:"false"`
	CertFile   string `yaml:"certFile" json:"certFile" validate:"required_if=Enabled true"`
	KeyFile    string `yaml:"keyFile" json:"keyFile" validate:"required_if=Enabled true"`
	CACertFile string `yaml:"caCertFile" json:"caCertFile"`
	ClientAuth string `yaml:"clientAuth" json:"clientAuth" default:"NoClientCert" validate:"omitempty,oneof=NoClientCert RequestClientCert RequireAnyClientCert VerifyClientCertIfGiven RequireAndVerifyClientCert"`
	MinVersion string `yaml:"minVersion" json:"minVersion" default:"1.2" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`
}

// EmbeddedConfig configures the embedded-interpreter worker pool (C1/C5).
type EmbeddedConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled" default:"false"`
	LibraryPath         string        `yaml:"libraryPath" json:"libraryPath" validate:"required_if=Enabled true"`
	// LibraryDir restricts where LibraryPath may resolve to; empty means
	// unrestricted. Distinct from DocumentRoot, which bounds script paths,
	// not the native library itself.
	LibraryDir          string        `yaml:"libraryDir" json:"libraryDir"`
	LibraryHash         string        `yaml:"libraryHash" json:"libraryHash" validate:"omitempty,len=64,hexadecimal"`
	DocumentRoot         string        `yaml:"documentRoot" json:"documentRoot" validate:"required_if=Enabled true"`
	PoolSize            int           `yaml:"poolSize" json:"poolSize" default:"8" validate:"omitempty,min=1"`
	MaxRequestsPerWorker int          `yaml:"maxRequestsPerWorker" json:"maxRequestsPerWorker" default:"0"`
	RequestTimeout      time.Duration `yaml:"requestTimeout" json:"requestTimeout" default:"30s"`
}

// FastCGIConfig configures the FastCGI client and its connection pool (C2/C3).
type FastCGIConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" default:"false"`
	Network         string        `yaml:"network" json:"network" default:"tcp" validate:"omitempty,oneof=tcp tcp4 tcp6 unix"`
	Address         string        `yaml:"address" json:"address" validate:"required_if=Enabled true"`
	DocumentRoot    string        `yaml:"documentRoot" json:"documentRoot" validate:"required_if=Enabled true"`
	MaxSize         int           `yaml:"maxSize" json:"maxSize" default:"32" validate:"omitempty,min=1"`
	MinIdle         int           `yaml:"minIdle" json:"minIdle" default:"4"`
	MaxIdle         time.Duration `yaml:"maxIdle" json:"maxIdle" default:"90s"`
	MaxLifetime     time.Duration `yaml:"maxLifetime" json:"maxLifetime" default:"10m"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout" json:"connectTimeout" default:"2s"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" json:"requestTimeout" default:"30s"`
	EnableKeepalive bool          `yaml:"enableKeepalive" json:"enableKeepalive" default:"true"`
	Breaker         BreakerConfig `yaml:"breaker" json:"breaker"`
	// ExtraParams are static CGI variables merged into every request's
	// computed param set, e.g. APP_ENV. Computed variables always win on
	// key collision.
	ExtraParams map[string]string `yaml:"extraParams" json:"extraParams"`
}

type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failureThreshold" json:"failureThreshold" default:"5" validate:"omitempty,min=1"`
	SuccessThreshold   int           `yaml:"successThreshold" json:"successThreshold" default:"2" validate:"omitempty,min=1"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout" default:"30s"`
	HalfOpenMaxProbes  int           `yaml:"halfOpenMaxProbes" json:"halfOpenMaxProbes" default:"3" validate:"omitempty,min=1"`
}

type StaticConfig struct {
	Root        string   `yaml:"root" json:"root" validate:"required"`
	IndexFiles  []string `yaml:"indexFiles" json:"indexFiles"`
	Compression bool     `yaml:"compression" json:"compression" default:"true"`
	CompressMin int      `yaml:"compressMinBytes" json:"compressMinBytes" default:"1024"`
}

type RouteConfig struct {
	Pattern  string `yaml:"pattern" json:"pattern" validate:"required"`
	Kind     string `yaml:"kind" json:"kind" validate:"required,oneof=exact prefix suffix regex"`
	Backend  string `yaml:"backend" json:"backend" validate:"required,oneof=embedded fastcgi static"`
	Priority uint32 `yaml:"priority" json:"priority"`
}

type WAFConfig struct {
	Mode  string          `yaml:"mode" json:"mode" default:"off" validate:"omitempty,oneof=off learn detect block"`
	Rules []WAFRuleConfig `yaml:"rules" json:"rules"`
}

type WAFRuleConfig struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Description string `yaml:"description" json:"description"`
	Target      string `yaml:"target" json:"target" validate:"required,oneof=uri query_string headers body user_agent method"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Expr        string `yaml:"expr" json:"expr"`
	Action      string `yaml:"action" json:"action" default:"block" validate:"omitempty,oneof=block log challenge"`
	Severity    int    `yaml:"severity" json:"severity" default:"1"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled" default:"false"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond" default:"50" validate:"omitempty,gt=0"`
	Burst             int     `yaml:"burst" json:"burst" default:"100" validate:"omitempty,gt=0"`
}

type GeoIPConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled" default:"false"`
	DBPath    string   `yaml:"dbPath" json:"dbPath"`
	AllowList []string `yaml:"allowList" json:"allowList"`
	DenyList  []string `yaml:"denyList" json:"denyList"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" default:"false"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	AllowedMethods []string `yaml:"allowedMethods" json:"allowedMethods"`
	AllowedHeaders []string `yaml:"allowedHeaders" json:"allowedHeaders"`
	MaxAge         int      `yaml:"maxAge" json:"maxAge" default:"600"`
}

type UpstreamConfig struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	URL     string `yaml:"url" json:"url" validate:"required"`
	Weight  int    `yaml:"weight" json:"weight" default:"1" validate:"omitempty,min=1"`
	Enabled bool   `yaml:"enabled" json:"enabled" default:"true"`
}

type DeploymentConfig struct {
	Algorithm            string        `yaml:"algorithm" json:"algorithm" default:"round_robin" validate:"omitempty,oneof=round_robin weighted_round_robin least_connections random"`
	HealthCheckPath      string        `yaml:"healthCheckPath" json:"healthCheckPath" default:"/_health"`
	HealthCheckInterval  time.Duration `yaml:"healthCheckInterval" json:"healthCheckInterval" default:"10s"`
	HealthCheckTimeout   time.Duration `yaml:"healthCheckTimeout" json:"healthCheckTimeout" default:"2s"`
	HealthyThreshold     int           `yaml:"healthyThreshold" json:"healthyThreshold" default:"2"`
	UnhealthyThreshold   int           `yaml:"unhealthyThreshold" json:"unhealthyThreshold" default:"3"`
	StickySessions       bool          `yaml:"stickySessions" json:"stickySessions" default:"false"`
	StickySessionTTL     time.Duration `yaml:"stickySessionTTL" json:"stickySessionTTL" default:"30m"`
	Canary               *CanaryConfig `yaml:"canary" json:"canary"`
	ABTests              []ABTestConfig `yaml:"abTests" json:"abTests"`
}

type CanaryConfig struct {
	StableUpstream  string        `yaml:"stableUpstream" json:"stableUpstream" validate:"required"`
	CanaryUpstream  string        `yaml:"canaryUpstream" json:"canaryUpstream" validate:"required"`
	StartPercent    int           `yaml:"startPercent" json:"startPercent" default:"5" validate:"min=0,max=100"`
	StepPercent     int           `yaml:"stepPercent" json:"stepPercent" default:"5" validate:"min=1,max=100"`
	StepInterval    time.Duration `yaml:"stepInterval" json:"stepInterval" default:"5m"`
	MaxErrorRate    float64       `yaml:"maxErrorRate" json:"maxErrorRate" default:"0.05"`
}

type ABTestConfig struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Variants []string `yaml:"variants" json:"variants" validate:"required,min=2"`
	Weights  []int    `yaml:"weights" json:"weights"`
	Sticky   bool     `yaml:"sticky" json:"sticky" default:"true"`
	Cond     string   `yaml:"cond" json:"cond"`
}

type AdminConfig struct {
	SocketPath string `yaml:"socketPath" json:"socketPath" default:"/run/phpedge/admin.sock"`
	AuthToken  string `yaml:"authToken" json:"authToken"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" default:"true"`
	Namespace string `yaml:"namespace" json:"namespace" default:"phpedge"`
}

type SessionConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" default:"false"`
	Address string        `yaml:"address" json:"address" validate:"required_if=Enabled true"`
	DB      int           `yaml:"db" json:"db" default:"0" validate:"min=0,max=15"`
	Prefix  string        `yaml:"prefix" json:"prefix" default:"phpedge:sess:"`
	TTL     time.Duration `yaml:"ttl" json:"ttl" default:"30m"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" default:"info" validate:"omitempty,oneof=debug info warn error"`
	AccessLog  bool   `yaml:"accessLog" json:"accessLog" default:"true"`
}

type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" default:"30s"`
}
