// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package metrics provides the Prometheus instrumentation for the
// acquisition pipeline: fetch latency per vendor, punch throughput,
// failure kinds, live worker population, and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll / fetch metrics
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockbridge_poll_duration_seconds",
			Help:    "Duration of one poll runner execution per vendor",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vendor"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_fetch_errors_total",
			Help: "Adapter fetch failures by vendor and taxonomy kind",
		},
		[]string{"vendor", "kind"},
	)

	PunchesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_punches_fetched_total",
			Help: "Raw attendance events fetched from devices",
		},
		[]string{"vendor"},
	)

	// Reconciliation metrics
	PunchesReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_punches_reconciled_total",
			Help: "Normalized punches dispatched to the attendance ledger",
		},
		[]string{"direction"},
	)

	PunchesSkippedUnmapped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clockbridge_punches_skipped_unmapped_total",
			Help: "Punches skipped because the device-local user id has no identity mapping",
		},
	)

	LedgerCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_ledger_call_errors_total",
			Help: "Attendance ledger call failures by operation",
		},
		[]string{"operation"},
	)

	// Live capture metrics
	LiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockbridge_live_workers",
			Help: "Currently running live capture workers",
		},
	)

	LiveEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_live_events_received_total",
			Help: "Events pushed by devices over live capture sessions",
		},
		[]string{"vendor"},
	)

	LiveReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_live_reconnects_total",
			Help: "Live capture session reconnects after a dropped connection",
		},
		[]string{"vendor"},
	)

	// Scheduler metrics
	ScheduledDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockbridge_scheduled_devices",
			Help: "Devices with an active poll schedule",
		},
	)

	PollsSkippedOverlap = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_polls_skipped_overlap_total",
			Help: "Scheduled fires skipped because the prior poll of the device was still running",
		},
		[]string{"vendor"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clockbridge_circuit_breaker_state",
			Help: "Circuit breaker state per device (0=closed, 1=half-open, 2=open)",
		},
		[]string{"device"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockbridge_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per device",
		},
		[]string{"device", "from", "to"},
	)
)

// ObservePoll records one completed poll execution.
func ObservePoll(vendor string, d time.Duration) {
	PollDuration.WithLabelValues(vendor).Observe(d.Seconds())
}
