// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"encoding/json"

	"github.com/quill-dev/quill/internal/config"
	quillerr "github.com/quill-dev/quill/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// providersOutput is the serializable view printed by `quill providers`.
type providersOutput struct {
	Chain      []string         `json:"chain" yaml:"chain"`
	Primary    string           `json:"primary,omitempty" yaml:"primary,omitempty"`
	Thresholds thresholdsOutput `json:"thresholds" yaml:"thresholds"`
	Providers  []providerOutput `json:"providers" yaml:"providers"`
}

type thresholdsOutput struct {
	MaxFailures      int  `json:"max_failures" yaml:"max_failures"`
	CooldownMs       int  `json:"cooldown_ms" yaml:"cooldown_ms"`
	FailureWindowMs  int  `json:"failure_window_ms" yaml:"failure_window_ms"`
	SlowThresholdMs  int  `json:"slow_threshold_ms" yaml:"slow_threshold_ms"`
	MaxSlowResponses int  `json:"max_slow_responses" yaml:"max_slow_responses"`
	AutoPromote      bool `json:"auto_promote" yaml:"auto_promote"`
}

type providerOutput struct {
	Name      string `json:"name" yaml:"name"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	HasAPIKey bool   `json:"has_api_key" yaml:"has_api_key"`
}

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show the configured provider failover chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			format, _ := cmd.Flags().GetString("output")

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			out := buildProvidersOutput(cfg)

			var rendered []byte
			switch format {
			case "json":
				rendered, err = json.MarshalIndent(out, "", "  ")
				if err == nil {
					rendered = append(rendered, '\n')
				}
			case "yaml":
				rendered, err = yaml.Marshal(out)
			default:
				return quillerr.Errorf(quillerr.CodeCLIInputInvalid,
					"unknown output format %q (want json or yaml)", format)
			}
			if err != nil {
				return quillerr.Wrap(err, quillerr.CodeCLIOutputFailure, "rendering output")
			}

			_, err = cmd.OutOrStdout().Write(rendered)
			return err
		},
	}

	cmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
	return cmd
}

func buildProvidersOutput(cfg *config.Config) providersOutput {
	out := providersOutput{
		Chain: cfg.Failover.Chain,
		Thresholds: thresholdsOutput{
			MaxFailures:      cfg.Failover.MaxFailures,
			CooldownMs:       cfg.Failover.CooldownMs,
			FailureWindowMs:  cfg.Failover.FailureWindowMs,
			SlowThresholdMs:  cfg.Failover.SlowThresholdMs,
			MaxSlowResponses: cfg.Failover.MaxSlowResponses,
			AutoPromote:      cfg.Failover.AutoPromote,
		},
	}
	if len(cfg.Failover.Chain) > 0 {
		out.Primary = cfg.Failover.Chain[0]
	}

	for _, id := range cfg.Failover.Chain {
		p := cfg.Providers[id]
		out.Providers = append(out.Providers, providerOutput{
			Name:      id,
			Endpoint:  p.Endpoint,
			HasAPIKey: p.APIKey != "",
		})
	}
	return out
}
