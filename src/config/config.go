// Package config loads, validates, and hot-reloads the process configuration.
//
// File/env loading mirrors the teacher's own config package: YAML via
// goccy/go-yaml, JSON via bytedance/sonic, environment overrides via
// caarlos0/env, and struct validation via go-playground/validator.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/fenwicklabs/phpedge/src/security/validation"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// LoadEnvConfig parses bootstrap settings from the environment.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying env config defaults: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating env config: %w", err)
	}
	return cfg, nil
}

// Load resolves the full Config from the env-selected file (or inline
// content) and validates it. This is the entry point used by `phpedge
// serve`; the hot-reload path (§6, SIGUSR1) re-reads the file through
// Snapshot.Reload, which calls LoadFile.
func Load(ec *EnvConfig) (*Config, error) {
	if ec.ConfigContent != "" {
		if err := validation.ValidateConfigContentSize(len(ec.ConfigContent)); err != nil {
			return nil, fmt.Errorf("inline config too large: %w", err)
		}
		return decode(strings.NewReader(ec.ConfigContent), ec.ConfigFormat)
	}
	return LoadFile(ec.ConfigFilePath)
}

// LoadFile reads and validates a config file, dispatching on extension.
func LoadFile(path string) (cfg *Config, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("statting config file: %w", err)
	}
	if err := validation.ValidateConfigContentSize(int(info.Size())); err != nil {
		return nil, fmt.Errorf("config file too large: %w", err)
	}

	file, err := os.Open(absPath) // #nosec G304 - path comes from operator-controlled CLI/env config, not request input
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Error("error closing config file", "path", absPath, "error", cerr)
		}
	}()

	return decode(file, strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), "."))
}

func decode(r interface{ Read([]byte) (int, error) }, format string) (*Config, error) {
	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	var err error
	switch format {
	case "yaml", "yml", "":
		err = yaml.NewDecoder(r).Decode(cfg)
	case "json":
		err = sonic.ConfigDefault.NewDecoder(r).Decode(cfg)
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// UnsupportedFormatError is returned when a config file's extension (or
// an explicit format override) names a codec phpedge doesn't carry.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return "unsupported config format: " + e.Format
}
