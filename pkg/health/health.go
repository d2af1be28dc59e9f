// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package health defines the serializable provider health snapshot
// exposed by the failover router for monitoring and operator visibility.
package health

import "time"

// Status is a point-in-time view of one provider's health. All fields are
// copies safe to serialize; none reference live router state.
//
// Failures and Successes count only events inside the configured sliding
// failure window. TotalRequests is cumulative and never pruned.
// AvgResponseTimeMs is the mean of at most the last 100 recorded latencies,
// rounded to the nearest millisecond. FailureRate is
// failures/(failures+successes) over the window, rounded to two decimal
// places, 0 when no samples remain in the window.
type Status struct {
	Provider                 string     `json:"provider" yaml:"provider"`
	Healthy                  bool       `json:"healthy" yaml:"healthy"`
	Failures                 int        `json:"failures" yaml:"failures"`
	Successes                int        `json:"successes" yaml:"successes"`
	TotalRequests            int64      `json:"total_requests" yaml:"total_requests"`
	FailureRate              float64    `json:"failure_rate" yaml:"failure_rate"`
	AvgResponseTimeMs        int64      `json:"avg_response_time_ms" yaml:"avg_response_time_ms"`
	ConsecutiveSlowResponses int        `json:"consecutive_slow_responses" yaml:"consecutive_slow_responses"`
	LastSuccessAt            *time.Time `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty"`
	LastFailureAt            *time.Time `json:"last_failure_at,omitempty" yaml:"last_failure_at,omitempty"`
	CircuitOpenedAt          *time.Time `json:"circuit_opened_at,omitempty" yaml:"circuit_opened_at,omitempty"`
}
