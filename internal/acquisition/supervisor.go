// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/notify"
	"github.com/tomtom215/clockbridge/internal/store"
)

// DeviceSupervisor keeps at most one acquisition service per device: a
// live worker or a scheduled poller, never both. Mode changes replace the
// running service under the registry lock, so the mutual exclusion holds
// even under concurrent control calls.
type DeviceSupervisor struct {
	sup     *suture.Supervisor
	db      *store.DB
	cursors *cursor.BadgerStore
	runner  *PollRunner

	normalizer *attendance.Normalizer
	reconciler *attendance.Reconciler
	sink       notify.Sink

	liveCfg         LiveConfig
	defaultInterval time.Duration

	mu       sync.Mutex
	services map[string]suture.ServiceToken
}

// NewDeviceSupervisor builds the registry over a fresh suture supervisor.
func NewDeviceSupervisor(db *store.DB, cursors *cursor.BadgerStore, runner *PollRunner, normalizer *attendance.Normalizer, reconciler *attendance.Reconciler, sink notify.Sink, liveCfg LiveConfig, defaultInterval time.Duration) *DeviceSupervisor {
	return &DeviceSupervisor{
		sup:             suture.NewSimple("devices"),
		db:              db,
		cursors:         cursors,
		runner:          runner,
		normalizer:      normalizer,
		reconciler:      reconciler,
		sink:            sink,
		liveCfg:         liveCfg,
		defaultInterval: defaultInterval,
		services:        make(map[string]suture.ServiceToken),
	}
}

// Supervisor exposes the underlying suture node for tree composition.
func (d *DeviceSupervisor) Supervisor() *suture.Supervisor { return d.sup }

// StartAll registers services for every active device flagged live or
// scheduled. Called once at boot after the supervisor tree is running.
func (d *DeviceSupervisor) StartAll(ctx context.Context) error {
	live, err := d.db.ListLiveDevices(ctx)
	if err != nil {
		return err
	}
	for i := range live {
		d.startLive(&live[i])
	}

	scheduled, err := d.db.ListScheduledDevices(ctx)
	if err != nil {
		return err
	}
	for i := range scheduled {
		d.startScheduled(&scheduled[i])
	}

	logging.Info().
		Int("live", len(live)).
		Int("scheduled", len(scheduled)).
		Msg("device acquisition services started")
	return nil
}

// SetLive switches live capture on or off, stopping any scheduled poller.
func (d *DeviceSupervisor) SetLive(ctx context.Context, deviceID string, enabled bool) error {
	profile, err := d.db.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if enabled && !profile.VendorKind.SupportsLive() {
		return fmt.Errorf("vendor %s does not support live capture", profile.VendorKind)
	}

	if err := d.db.SetAcquisitionMode(ctx, deviceID, enabled, false); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(deviceID)
	if enabled {
		profile.IsLive = true
		profile.IsScheduled = false
		d.startLiveLocked(profile)
	}
	return nil
}

// SetSchedule switches scheduled polling on or off, stopping any live
// worker. A zero interval falls back to the configured default.
func (d *DeviceSupervisor) SetSchedule(ctx context.Context, deviceID string, enabled bool, interval time.Duration) error {
	profile, err := d.db.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	if enabled {
		if interval <= 0 {
			interval = d.defaultInterval
		}
		profile.IsLive = false
		profile.IsScheduled = true
		profile.PollIntervalSeconds = int(interval / time.Second)
		if err := d.db.SaveDevice(ctx, profile); err != nil {
			return err
		}
	} else {
		if err := d.db.SetAcquisitionMode(ctx, deviceID, profile.IsLive, false); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(deviceID)
	if enabled {
		d.startScheduledLocked(profile)
	} else if profile.IsLive {
		d.startLiveLocked(profile)
	}
	return nil
}

// StopDevice removes the device's acquisition service and per-device state.
// Used by device deletion; the caller handles row and cursor cleanup.
func (d *DeviceSupervisor) StopDevice(deviceID string) {
	d.mu.Lock()
	d.stopLocked(deviceID)
	d.mu.Unlock()
	d.runner.Forget(deviceID)
}

func (d *DeviceSupervisor) startLive(profile *models.DeviceProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLiveLocked(profile)
}

func (d *DeviceSupervisor) startScheduled(profile *models.DeviceProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startScheduledLocked(profile)
}

func (d *DeviceSupervisor) startLiveLocked(profile *models.DeviceProfile) {
	worker := NewLiveWorker(profile.ID, d.db, d.cursors, d.normalizer, d.reconciler, d.sink, d.liveCfg)
	d.services[profile.ID] = d.sup.Add(worker)
}

func (d *DeviceSupervisor) startScheduledLocked(profile *models.DeviceProfile) {
	interval := profile.PollInterval()
	if interval <= 0 {
		interval = d.defaultInterval
	}
	poller := NewDevicePoller(profile.ID, string(profile.VendorKind), interval, d.runner)
	d.services[profile.ID] = d.sup.Add(poller)
}

func (d *DeviceSupervisor) stopLocked(deviceID string) {
	token, ok := d.services[deviceID]
	if !ok {
		return
	}
	delete(d.services, deviceID)
	if err := d.sup.RemoveAndWait(token, 10*time.Second); err != nil {
		logging.Warn().Err(err).Str("device", deviceID).Msg("acquisition service did not stop cleanly")
	}
}
