package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, ext, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	path := writeTempConfig(t, ".yaml", `
server:
  address: "0.0.0.0:8080"
static:
  root: /srv/www
`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Address)
	require.Equal(t, "/srv/www", cfg.Static.Root)
	require.Equal(t, int64(10485760), cfg.Server.MaxBodyBytes)
	require.Equal(t, "off", cfg.WAF.Mode)
}

func TestLoadFileJSON(t *testing.T) {
	path := writeTempConfig(t, ".json", `{"server":{"address":"127.0.0.1:9000"},"static":{"root":"/srv/www"}}`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
}

func TestLoadFileMissingRequired(t *testing.T) {
	path := writeTempConfig(t, ".yaml", `
static:
  root: /srv/www
`)
	_, err := config.LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := writeTempConfig(t, ".toml", "server.address = \"x\"")
	_, err := config.LoadFile(path)
	require.Error(t, err)
	var unsupported *config.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
}

func TestSnapshotReload(t *testing.T) {
	path := writeTempConfig(t, ".yaml", `
server:
  address: "0.0.0.0:8080"
static:
  root: /srv/www
`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	snap := config.NewSnapshot(cfg)
	require.Equal(t, "0.0.0.0:8080", snap.Load().Server.Address)

	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: "0.0.0.0:9090"
static:
  root: /srv/www
`), 0o600))

	reloaded, err := snap.Reload(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9090", reloaded.Server.Address)
	require.Equal(t, "0.0.0.0:9090", snap.Load().Server.Address)
}

func TestSnapshotReloadKeepsOldOnInvalid(t *testing.T) {
	path := writeTempConfig(t, ".yaml", `
server:
  address: "0.0.0.0:8080"
static:
  root: /srv/www
`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	snap := config.NewSnapshot(cfg)

	require.NoError(t, os.WriteFile(path, []byte(`static:
  root: /srv/www
`), 0o600))

	_, err = snap.Reload(path)
	require.Error(t, err)
	require.Equal(t, "0.0.0.0:8080", snap.Load().Server.Address)
}

func TestDecodeOptions(t *testing.T) {
	type ruleOpts struct {
		Threshold int    `mapstructure:"threshold" default:"5"`
		Label     string `mapstructure:"label" validate:"required"`
	}
	opts, err := config.DecodeOptions[ruleOpts](map[string]any{"label": "sql-injection"})
	require.NoError(t, err)
	require.Equal(t, 5, opts.Threshold)
	require.Equal(t, "sql-injection", opts.Label)

	_, err = config.DecodeOptions[ruleOpts](map[string]any{})
	require.Error(t, err)
}
