// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package notify publishes acquisition events to interested observers: the
// structured log, and any connected websocket clients via the hub.
package notify

import (
	"time"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
)

// Sink receives acquisition lifecycle events. Implementations must not
// block: they are invoked inline from poll runners and live workers.
type Sink interface {
	// PunchRecorded fires after a punch has reached the ledger.
	PunchRecorded(punch models.NormalizedPunch)

	// PollCompleted fires after each scheduled or manual fetch.
	PollCompleted(deviceID string, fetched, processed, failed int, took time.Duration)

	// DeviceStatus fires on live worker state transitions.
	DeviceStatus(deviceID, status string)
}

// LogSink writes events to the structured log.
type LogSink struct{}

// PunchRecorded logs one reconciled punch.
func (LogSink) PunchRecorded(punch models.NormalizedPunch) {
	logging.Debug().
		Str("employee", punch.EmployeeRef).
		Str("device", punch.DeviceID).
		Str("direction", string(punch.Direction)).
		Time("instant", punch.Instant).
		Msg("punch recorded")
}

// PollCompleted logs one finished poll.
func (LogSink) PollCompleted(deviceID string, fetched, processed, failed int, took time.Duration) {
	evt := logging.Info()
	if failed > 0 {
		evt = logging.Warn()
	}
	evt.Str("device", deviceID).
		Int("fetched", fetched).
		Int("processed", processed).
		Int("failed", failed).
		Dur("took", took).
		Msg("poll completed")
}

// DeviceStatus logs a live worker state transition.
func (LogSink) DeviceStatus(deviceID, status string) {
	logging.Info().
		Str("device", deviceID).
		Str("status", status).
		Msg("device status changed")
}

// Fanout dispatches each event to every sink in order.
type Fanout []Sink

func (f Fanout) PunchRecorded(punch models.NormalizedPunch) {
	for _, s := range f {
		s.PunchRecorded(punch)
	}
}

func (f Fanout) PollCompleted(deviceID string, fetched, processed, failed int, took time.Duration) {
	for _, s := range f {
		s.PollCompleted(deviceID, fetched, processed, failed, took)
	}
}

func (f Fanout) DeviceStatus(deviceID, status string) {
	for _, s := range f {
		s.DeviceStatus(deviceID, status)
	}
}
