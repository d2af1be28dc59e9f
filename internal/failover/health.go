// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package failover

import (
	"math"
	"time"

	"github.com/quill-dev/quill/pkg/health"
)

// maxResponseTimeSamples caps the rolling latency buffer per provider.
const maxResponseTimeSamples = 100

// providerHealth is the per-provider metrics record. All access is guarded
// by the Router mutex. Zero time values mean "never" / "circuit closed".
type providerHealth struct {
	failures        []time.Time
	successes       []time.Time
	responseTimes   []time.Duration
	totalRequests   int64
	lastSuccess     time.Time
	lastFailure     time.Time
	circuitOpenedAt time.Time
	consecutiveSlow int
}

func newProviderHealth() *providerHealth {
	return &providerHealth{}
}

// circuitOpen reports whether the circuit is currently open.
func (h *providerHealth) circuitOpen() bool {
	return !h.circuitOpenedAt.IsZero()
}

// prune drops failure and success entries that have aged out of the
// window. Linear scan per call; the arrays stay small because they only
// ever hold one window's worth of traffic.
func (h *providerHealth) prune(now time.Time, window time.Duration) {
	h.failures = pruneOlder(h.failures, now, window)
	h.successes = pruneOlder(h.successes, now, window)
}

func pruneOlder(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := stamps[:0]
	for _, t := range stamps {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

// recordSuccess applies one successful outcome. Returns true when the
// success closed an open circuit.
func (h *providerHealth) recordSuccess(now time.Time, responseTime time.Duration, cfg Config) (recovered bool) {
	h.prune(now, cfg.FailureWindow)

	h.successes = append(h.successes, now)
	h.totalRequests++
	h.lastSuccess = now

	h.responseTimes = append(h.responseTimes, responseTime)
	if len(h.responseTimes) > maxResponseTimeSamples {
		h.responseTimes = h.responseTimes[len(h.responseTimes)-maxResponseTimeSamples:]
	}

	if responseTime > cfg.SlowThreshold {
		h.consecutiveSlow++
	} else {
		h.consecutiveSlow = 0
	}

	if h.circuitOpen() {
		h.circuitOpenedAt = time.Time{}
		return true
	}
	return false
}

// recordFailure applies one failed outcome. Returns true when the failure
// count newly breached the threshold and opened the circuit.
func (h *providerHealth) recordFailure(now time.Time, cfg Config) (opened bool) {
	h.prune(now, cfg.FailureWindow)

	h.failures = append(h.failures, now)
	h.totalRequests++
	h.lastFailure = now
	h.consecutiveSlow = 0

	if len(h.failures) >= cfg.MaxFailures && !h.circuitOpen() {
		h.circuitOpenedAt = now
		return true
	}
	return false
}

// healthy evaluates the circuit verdict. A provider is unhealthy when its
// circuit is open or it has produced too many consecutive slow responses.
func (h *providerHealth) healthy(cfg Config) bool {
	if h.circuitOpen() {
		return false
	}
	return h.consecutiveSlow < cfg.MaxSlowResponses
}

// recoveryEligible reports whether an open circuit has cooled down enough
// for a trial selection.
func (h *providerHealth) recoveryEligible(now time.Time, cfg Config) bool {
	if !h.circuitOpen() {
		return false
	}
	return now.Sub(h.circuitOpenedAt) >= cfg.Cooldown
}

// snapshot builds the exported view. It prunes first so counts and the
// failure rate reflect only the live window.
func (h *providerHealth) snapshot(provider string, now time.Time, cfg Config) health.Status {
	h.prune(now, cfg.FailureWindow)

	s := health.Status{
		Provider:                 provider,
		Healthy:                  h.healthy(cfg),
		Failures:                 len(h.failures),
		Successes:                len(h.successes),
		TotalRequests:            h.totalRequests,
		FailureRate:              failureRate(len(h.failures), len(h.successes)),
		AvgResponseTimeMs:        avgMillis(h.responseTimes),
		ConsecutiveSlowResponses: h.consecutiveSlow,
	}

	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		s.LastSuccessAt = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		s.LastFailureAt = &t
	}
	if h.circuitOpen() {
		t := h.circuitOpenedAt
		s.CircuitOpenedAt = &t
	}
	return s
}

// failureRate is failures/(failures+successes) rounded to two decimals,
// 0 when the window holds no samples.
func failureRate(failures, successes int) float64 {
	total := failures + successes
	if total == 0 {
		return 0
	}
	return math.Round(float64(failures)/float64(total)*100) / 100
}

// avgMillis is the mean of the retained samples rounded to the nearest
// integer millisecond, 0 when no samples were recorded.
func avgMillis(samples []time.Duration) int64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, d := range samples {
		sum += float64(d) / float64(time.Millisecond)
	}
	return int64(math.Round(sum / float64(len(samples))))
}
