package server

import (
	"crypto/tls"

	"github.com/fenwicklabs/phpedge/src/common/tlsconfig"
	"github.com/fenwicklabs/phpedge/src/config"
)

// BuildTLSConfig adapts config.TLSConfig into a *tls.Config using the
// teacher's tlsconfig.Config (secure cipher suites, configurable minimum
// version and client-auth mode), then layers on ALPN protocol negotiation
// for HTTP/2 since tlsconfig.BuildServerConfig doesn't set NextProtos.
func BuildTLSConfig(cfg config.TLSConfig, http2 bool) (*tls.Config, error) {
	adapted := tlsconfig.Config{
		Enabled:    cfg.Enabled,
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
		CACertFile: cfg.CACertFile,
		ClientAuth: cfg.ClientAuth,
		MinVersion: cfg.MinVersion,
	}

	tc, err := adapted.BuildServerConfig()
	if err != nil || tc == nil {
		return tc, err
	}

	if http2 {
		tc.NextProtos = []string{"h2", "http/1.1"}
	} else {
		tc.NextProtos = []string{"http/1.1"}
	}
	return tc, nil
}
