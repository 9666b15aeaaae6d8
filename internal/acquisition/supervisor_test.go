// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/models"
)

// newSupervisorFixture runs a device supervisor over a live suture tree so
// service removal actually waits for workers to stop.
func newSupervisorFixture(t *testing.T) (*pollFixture, *DeviceSupervisor) {
	t.Helper()
	fx := newPollFixture(t)

	ds := NewDeviceSupervisor(fx.db, fx.runner.cursors, fx.runner,
		attendance.NewNormalizer(fx.db), attendance.NewReconciler(fx.led), nil,
		LiveConfig{ReconnectMin: 10 * time.Millisecond, ReconnectMax: 20 * time.Millisecond},
		time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ds.Supervisor().Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fx, ds
}

func (d *DeviceSupervisor) serviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.services)
}

// unreachableLiveDevice is a live-capable device whose host refuses
// connections immediately, so its worker spins in a fast backoff loop
// without ever opening a session.
func unreachableLiveDevice(t *testing.T, fx *pollFixture, id string) {
	t.Helper()
	profile := &models.DeviceProfile{
		ID:         id,
		Name:       "Test reader",
		VendorKind: models.VendorZK,
		Host:       "127.0.0.1",
		Port:       1,
		Direction:  models.DirectionAlternating,
		Active:     true,
	}
	if err := fx.db.CreateDevice(context.Background(), profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
}

func TestSupervisorModeToggleMutualExclusion(t *testing.T) {
	fx, ds := newSupervisorFixture(t)
	ctx := context.Background()
	unreachableLiveDevice(t, fx, "zk-1")

	steps := []struct {
		name          string
		apply         func() error
		wantLive      bool
		wantScheduled bool
		wantServices  int
	}{
		{"live on", func() error { return ds.SetLive(ctx, "zk-1", true) }, true, false, 1},
		{"schedule replaces live", func() error { return ds.SetSchedule(ctx, "zk-1", true, time.Hour) }, false, true, 1},
		{"live replaces schedule", func() error { return ds.SetLive(ctx, "zk-1", true) }, true, false, 1},
		{"live off", func() error { return ds.SetLive(ctx, "zk-1", false) }, false, false, 0},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		dev, err := fx.db.GetDevice(ctx, "zk-1")
		if err != nil {
			t.Fatalf("%s: GetDevice: %v", step.name, err)
		}
		if dev.IsLive != step.wantLive || dev.IsScheduled != step.wantScheduled {
			t.Errorf("%s: flags = (live %t, scheduled %t), want (%t, %t)",
				step.name, dev.IsLive, dev.IsScheduled, step.wantLive, step.wantScheduled)
		}
		if got := ds.serviceCount(); got != step.wantServices {
			t.Errorf("%s: %d services registered, want %d", step.name, got, step.wantServices)
		}
	}
}

func TestSupervisorConcurrentModeChanges(t *testing.T) {
	fx, ds := newSupervisorFixture(t)
	ctx := context.Background()
	unreachableLiveDevice(t, fx, "zk-1")

	// Interleave live and schedule switches from competing goroutines. No
	// interleaving may leave both flags set or two services registered for
	// the same device.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = ds.SetLive(ctx, "zk-1", true)
			} else {
				err = ds.SetSchedule(ctx, "zk-1", true, time.Hour)
			}
			if err != nil {
				t.Errorf("mode change %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	dev, err := fx.db.GetDevice(ctx, "zk-1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if dev.IsLive && dev.IsScheduled {
		t.Error("device flagged live and scheduled at once")
	}
	if !dev.IsLive && !dev.IsScheduled {
		t.Error("device ended with no acquisition mode after enable-only calls")
	}
	if got := ds.serviceCount(); got != 1 {
		t.Errorf("%d services registered, want exactly 1", got)
	}

	ds.StopDevice("zk-1")
	if got := ds.serviceCount(); got != 0 {
		t.Errorf("%d services registered after stop, want 0", got)
	}
}
