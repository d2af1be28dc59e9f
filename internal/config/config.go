// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package config loads Quill configuration from defaults, an optional
// yaml file, and QUILL_-prefixed environment variables, in that
// precedence order.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/quill-dev/quill/internal/failover"
	quillerr "github.com/quill-dev/quill/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Quill configuration.
type Config struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Failover  FailoverConfig            `mapstructure:"failover"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// FailoverConfig configures the provider chain and circuit thresholds.
// Durations are integer milliseconds in the file.
type FailoverConfig struct {
	Chain            []string `mapstructure:"chain"`
	MaxFailures      int      `mapstructure:"max_failures"`
	CooldownMs       int      `mapstructure:"cooldown_ms"`
	FailureWindowMs  int      `mapstructure:"failure_window_ms"`
	SlowThresholdMs  int      `mapstructure:"slow_threshold_ms"`
	MaxSlowResponses int      `mapstructure:"max_slow_responses"`
	AutoPromote      bool     `mapstructure:"auto_promote"`
}

// RouterConfig converts the file representation into the failover core's
// configuration.
func (f FailoverConfig) RouterConfig() failover.Config {
	return failover.Config{
		MaxFailures:      f.MaxFailures,
		Cooldown:         time.Duration(f.CooldownMs) * time.Millisecond,
		FailureWindow:    time.Duration(f.FailureWindowMs) * time.Millisecond,
		SlowThreshold:    time.Duration(f.SlowThresholdMs) * time.Millisecond,
		MaxSlowResponses: f.MaxSlowResponses,
		AutoPromote:      f.AutoPromote,
	}
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix QUILL_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, quillerr.Errorf(quillerr.CodeConfigLoadReadFailure,
				"reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, quillerr.Errorf(quillerr.CodeConfigParseInvalidFormat,
			"unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SetDefaults registers the stock values on v, mirroring
// failover.DefaultConfig.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("failover.max_failures", failover.DefaultMaxFailures)
	v.SetDefault("failover.cooldown_ms", int(failover.DefaultCooldown/time.Millisecond))
	v.SetDefault("failover.failure_window_ms", int(failover.DefaultFailureWindow/time.Millisecond))
	v.SetDefault("failover.slow_threshold_ms", int(failover.DefaultSlowThreshold/time.Millisecond))
	v.SetDefault("failover.max_slow_responses", failover.DefaultMaxSlowResponses)
	v.SetDefault("failover.auto_promote", false)
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if err := c.Failover.RouterConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Chain members must reference configured providers. An empty chain
	// is valid at load time; the router rejects it when applied.
	for i, id := range c.Failover.Chain {
		if id == "" {
			errs = append(errs, quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
				"config: failover.chain[%d] must not be empty", i))
			continue
		}
		if c.Providers != nil {
			if _, ok := c.Providers[id]; !ok {
				errs = append(errs, quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
					"config: failover.chain[%d] references provider %q which is not configured", i, id))
			}
		}
	}

	return errs
}
