// Package config loads Kestrel configuration from defaults, an optional TOML file
// and KESTREL_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Profile names accepted by KESTREL_PROFILE.
const (
	ProfileDefault = "default"
	ProfileShared  = "shared"
)

// Load builds the configuration for the given profile and file path.
// A missing file is not an error: defaults and environment still apply.
func Load(profile, path string) (*domain.Config, error) {
	return load(profile, path, nil)
}

func load(profile, path string, environ map[string]string) (*domain.Config, error) {
	var cfg *domain.Config
	switch profile {
	case "", ProfileDefault:
		cfg = domain.DefaultConfig()
	case ProfileShared:
		cfg = domain.SharedConfig()
	default:
		return nil, fmt.Errorf("unknown profile: %s", profile)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *domain.Config) error {
	if cfg.Analytics.DefaultWindowDays <= 0 {
		return fmt.Errorf("analytics.default_window_days must be positive")
	}
	if cfg.Analytics.DefaultWindowDays > domain.MaxWindowDays {
		return fmt.Errorf("analytics.default_window_days must be at most %d", domain.MaxWindowDays)
	}
	if cfg.Analytics.ResultTTL <= 0 {
		return fmt.Errorf("analytics.result_ttl must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	return nil
}
