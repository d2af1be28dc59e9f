// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package metrics provides Prometheus instrumentation for the failover
// router. Collectors are package-level, registered once via Init, and fed
// by subscribing Observer to a router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quill-dev/quill/internal/failover"
)

var (
	// EventsTotal counts router events by type.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_failover_events_total",
			Help: "Total failover router events by type",
		},
		[]string{"type"},
	)

	// OutcomesTotal counts recorded request outcomes per provider.
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_outcomes_total",
			Help: "Total recorded provider outcomes",
		},
		[]string{"provider", "outcome"},
	)

	// ResponseSeconds observes successful response latency per provider.
	ResponseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_provider_response_seconds",
			Help:    "Successful provider response latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Healthy tracks the current circuit verdict per provider (1 healthy,
	// 0 unhealthy), driven by unhealthy/recovered events.
	Healthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quill_provider_healthy",
			Help: "Provider health as seen by the failover router",
		},
		[]string{"provider"},
	)

	// Promotions counts primary changes per promoted provider.
	Promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_promotions_total",
			Help: "Total promotions to primary",
		},
		[]string{"provider"},
	)
)

// Init registers all collectors with the default Prometheus registry.
// Must be called once at startup.
func Init() {
	prometheus.MustRegister(
		EventsTotal,
		OutcomesTotal,
		ResponseSeconds,
		Healthy,
		Promotions,
	)
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer returns a subscriber suitable for failover.Router.Subscribe
// that mirrors router events into the package collectors.
func Observer() func(failover.Event) {
	return func(ev failover.Event) {
		EventsTotal.WithLabelValues(string(ev.Type)).Inc()

		switch ev.Type {
		case failover.EventSuccess:
			OutcomesTotal.WithLabelValues(ev.Provider, "success").Inc()
			ResponseSeconds.WithLabelValues(ev.Provider).Observe(ev.ResponseTime.Seconds())
		case failover.EventFailure:
			OutcomesTotal.WithLabelValues(ev.Provider, "failure").Inc()
		case failover.EventUnhealthy:
			Healthy.WithLabelValues(ev.Provider).Set(0)
		case failover.EventRecovered:
			Healthy.WithLabelValues(ev.Provider).Set(1)
		case failover.EventPromoted:
			Promotions.WithLabelValues(ev.Provider).Inc()
		}
	}
}
