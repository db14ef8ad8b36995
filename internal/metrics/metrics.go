// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package metrics exposes Prometheus instrumentation for the watchlist
// pipeline: poll/diff cycles, enrichment throughput and throttling,
// routing decisions, deferred delivery, and upstream breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watchlist sync metrics

	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_sync_cycles_total",
			Help: "Total number of poll/diff cycles by outcome",
		},
		[]string{"kind", "outcome"}, // kind: poll|resync, outcome: ok|error|skipped
	)

	SyncItemsChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_sync_items_changed_total",
			Help: "Watchlist entries detected as added or modified",
		},
		[]string{"change"}, // added|modified|removed
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsarr_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync cycle",
		},
	)

	// Enrichment metrics

	EnrichLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_enrich_lookups_total",
			Help: "Metadata lookups by outcome",
		},
		[]string{"outcome"}, // ok|not_found|rate_limited|transient|empty_ids
	)

	EnrichConcurrencyCeiling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsarr_enrich_concurrency_ceiling",
			Help: "Current adaptive concurrency ceiling for metadata lookups",
		},
	)

	EnrichCooldownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsarr_enrich_cooldowns_total",
			Help: "Global dispatch halts triggered by upstream rate limiting",
		},
	)

	// Routing metrics

	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_routing_decisions_total",
			Help: "Routing decisions produced, labeled by evaluator",
		},
		[]string{"evaluator"},
	)

	RoutingUnknownFieldsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsarr_routing_unknown_fields_total",
			Help: "Condition leaves referencing a field no evaluator owns (failed closed)",
		},
	)

	// Deferred delivery metrics

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsarr_deferred_queue_depth",
			Help: "Deferred tasks currently queued per target family",
		},
		[]string{"target"},
	)

	QueueDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_deferred_delivered_total",
			Help: "Deferred tasks delivered after target recovery",
		},
		[]string{"target"},
	)

	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_deferred_dropped_total",
			Help: "Deferred tasks dropped after exceeding max age",
		},
		[]string{"target"},
	)

	// Upstream circuit breaker metrics

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsarr_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsarr_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success|failure|rejected
	)
)
