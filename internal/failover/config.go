// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package failover

import (
	"time"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Default thresholds applied when a Router is constructed without an
// explicit Config.
const (
	DefaultMaxFailures      = 3
	DefaultCooldown         = 30 * time.Second
	DefaultFailureWindow    = 60 * time.Second
	DefaultSlowThreshold    = 10 * time.Second
	DefaultMaxSlowResponses = 5
)

// Config holds the circuit thresholds for the failover router. A single
// Config applies to every provider in the chain. Changes made through
// UpdateConfig affect subsequent evaluations only; window data already
// recorded is never recomputed.
type Config struct {
	// MaxFailures is the number of failures within FailureWindow that
	// opens a provider's circuit.
	MaxFailures int

	// Cooldown is how long an open circuit must stay open before the
	// provider becomes eligible for a recovery trial.
	Cooldown time.Duration

	// FailureWindow is the sliding window over which failures and
	// successes are counted. Older outcomes are ignored.
	FailureWindow time.Duration

	// SlowThreshold classifies a successful response as slow. Successes
	// above the threshold increment the consecutive-slow counter.
	SlowThreshold time.Duration

	// MaxSlowResponses is the number of consecutive slow successes that
	// marks a provider unhealthy without opening its circuit.
	MaxSlowResponses int

	// AutoPromote promotes the first healthy backup to primary when the
	// current primary's circuit opens.
	AutoPromote bool
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      DefaultMaxFailures,
		Cooldown:         DefaultCooldown,
		FailureWindow:    DefaultFailureWindow,
		SlowThreshold:    DefaultSlowThreshold,
		MaxSlowResponses: DefaultMaxSlowResponses,
	}
}

// Validate checks the configuration for logical errors.
func (c Config) Validate() error {
	if c.MaxFailures < 1 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"failover: MaxFailures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Cooldown <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"failover: Cooldown must be positive, got %s", c.Cooldown)
	}
	if c.FailureWindow <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"failover: FailureWindow must be positive, got %s", c.FailureWindow)
	}
	if c.SlowThreshold <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"failover: SlowThreshold must be positive, got %s", c.SlowThreshold)
	}
	if c.MaxSlowResponses < 1 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"failover: MaxSlowResponses must be at least 1, got %d", c.MaxSlowResponses)
	}
	return nil
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value.
type ConfigUpdate struct {
	MaxFailures      *int
	Cooldown         *time.Duration
	FailureWindow    *time.Duration
	SlowThreshold    *time.Duration
	MaxSlowResponses *int
	AutoPromote      *bool
}

// merged applies the update on top of cur and returns the result.
func (u ConfigUpdate) merged(cur Config) Config {
	if u.MaxFailures != nil {
		cur.MaxFailures = *u.MaxFailures
	}
	if u.Cooldown != nil {
		cur.Cooldown = *u.Cooldown
	}
	if u.FailureWindow != nil {
		cur.FailureWindow = *u.FailureWindow
	}
	if u.SlowThreshold != nil {
		cur.SlowThreshold = *u.SlowThreshold
	}
	if u.MaxSlowResponses != nil {
		cur.MaxSlowResponses = *u.MaxSlowResponses
	}
	if u.AutoPromote != nil {
		cur.AutoPromote = *u.AutoPromote
	}
	return cur
}
