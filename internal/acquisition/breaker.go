// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// fetchResult carries one FetchEvents outcome through the breaker.
type fetchResult struct {
	events []models.RawEvent
	cursor models.VendorCursor
}

// BreakerConfig tunes the per-device circuit breakers.
type BreakerConfig struct {
	Threshold uint32
	Cooldown  time.Duration
}

// breakerRegistry keeps one circuit breaker per device. A flapping device
// stops being dialed after Threshold consecutive failures until Cooldown
// has passed.
type breakerRegistry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[fetchResult]
}

func newBreakerRegistry(cfg BreakerConfig) *breakerRegistry {
	return &breakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[fetchResult]),
	}
}

func (r *breakerRegistry) forDevice(deviceID string) *gobreaker.CircuitBreaker[fetchResult] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[deviceID]; ok {
		return cb
	}

	threshold := r.cfg.Threshold
	if threshold == 0 {
		threshold = 5
	}
	cooldown := r.cfg.Cooldown
	if cooldown == 0 {
		cooldown = time.Minute
	}

	metrics.CircuitBreakerState.WithLabelValues(deviceID).Set(0)
	cb := gobreaker.NewCircuitBreaker[fetchResult](gobreaker.Settings{
		Name:        deviceID,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := breakerStateString(from), breakerStateString(to)
			logging.Warn().
				Str("device", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
		IsSuccessful: func(err error) bool {
			// Configuration mistakes do not indicate device health and
			// must not open the circuit.
			return err == nil || vendors.IsConfig(err)
		},
	})
	r.breakers[deviceID] = cb
	return cb
}

// fetch runs one FetchEvents call through the device's breaker.
func (r *breakerRegistry) fetch(ctx context.Context, deviceID string, adapter vendors.Adapter, cur models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	res, err := r.forDevice(deviceID).Execute(func() (fetchResult, error) {
		events, next, err := adapter.FetchEvents(ctx, cur)
		return fetchResult{events: events, cursor: next}, err
	})
	if err != nil {
		return nil, models.VendorCursor{}, err
	}
	return res.events, res.cursor, nil
}

// forget drops the breaker of a deleted device.
func (r *breakerRegistry) forget(deviceID string) {
	r.mu.Lock()
	delete(r.breakers, deviceID)
	r.mu.Unlock()
	metrics.CircuitBreakerState.DeleteLabelValues(deviceID)
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
