// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// DevicePoller fires the poll runner for one device on a fixed interval.
// It is a suture service; a tick that lands while the previous poll is
// still running is skipped, not queued.
type DevicePoller struct {
	deviceID string
	vendor   string
	interval time.Duration
	runner   *PollRunner
}

// NewDevicePoller creates the scheduled poller for one device.
func NewDevicePoller(deviceID, vendor string, interval time.Duration, runner *PollRunner) *DevicePoller {
	return &DevicePoller{
		deviceID: deviceID,
		vendor:   vendor,
		interval: interval,
		runner:   runner,
	}
}

func (p *DevicePoller) String() string { return "poller-" + p.deviceID }

// Serve polls once immediately, then on every tick until canceled.
func (p *DevicePoller) Serve(ctx context.Context) error {
	metrics.ScheduledDevices.Inc()
	defer metrics.ScheduledDevices.Dec()

	if err := p.pollOnce(ctx); errors.Is(err, suture.ErrDoNotRestart) {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); errors.Is(err, suture.ErrDoNotRestart) {
				return err
			}
		}
	}
}

// pollOnce runs one poll and classifies the outcome. Fetch failures keep
// the schedule alive; only device deletion removes the service.
func (p *DevicePoller) pollOnce(ctx context.Context) error {
	_, err := p.runner.RunPoll(ctx, p.deviceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPollInProgress):
		metrics.PollsSkippedOverlap.WithLabelValues(p.vendor).Inc()
		logging.Debug().Str("device", p.deviceID).Msg("poll still running, tick skipped")
		return nil
	case errors.Is(err, store.ErrDeviceNotFound):
		return suture.ErrDoNotRestart
	case errors.Is(err, context.Canceled):
		return nil
	default:
		logging.Error().Err(err).
			Str("device", p.deviceID).
			Str("kind", string(vendors.KindOf(err))).
			Msg("scheduled poll failed")
		return nil
	}
}
