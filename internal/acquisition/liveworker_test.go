// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/models"
)

func TestLiveWorkerBackoff(t *testing.T) {
	w := NewLiveWorker("dev-1", nil, nil, nil, nil, nil, LiveConfig{
		ReconnectMin: time.Second,
		ReconnectMax: 4 * time.Second,
	})

	got := w.nextBackoff(time.Second)
	if got != 2*time.Second {
		t.Errorf("nextBackoff(1s) = %v, want 2s", got)
	}
	got = w.nextBackoff(got)
	if got != 4*time.Second {
		t.Errorf("nextBackoff(2s) = %v, want 4s", got)
	}
	got = w.nextBackoff(got)
	if got != 4*time.Second {
		t.Errorf("nextBackoff(4s) = %v, want cap at 4s", got)
	}
}

func TestLiveWorkerConfigDefaults(t *testing.T) {
	w := NewLiveWorker("dev-1", nil, nil, nil, nil, nil, LiveConfig{})

	if w.cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v", w.cfg.PollInterval)
	}
	if w.cfg.ReconnectMin != time.Second {
		t.Errorf("ReconnectMin = %v", w.cfg.ReconnectMin)
	}
	if w.cfg.ReconnectMax != 2*time.Minute {
		t.Errorf("ReconnectMax = %v", w.cfg.ReconnectMax)
	}
	if got := w.String(); got != "live-worker-dev-1" {
		t.Errorf("String = %q", got)
	}
}

func TestLiveWorkerSleepHonorsCancel(t *testing.T) {
	w := NewLiveWorker("dev-1", nil, nil, nil, nil, nil, LiveConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if w.sleep(ctx, time.Minute) {
		t.Error("sleep on canceled context must return false immediately")
	}

	if !w.sleep(context.Background(), time.Millisecond) {
		t.Error("sleep must return true after the timer fires")
	}
}

func TestLiveWorkerStopsForMissingDevice(t *testing.T) {
	fx := newPollFixture(t)

	w := NewLiveWorker("absent", fx.db, fx.runner.cursors, nil, nil, nil, LiveConfig{})
	err := w.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve for missing device = %v, want ErrDoNotRestart", err)
	}
}

func TestLiveWorkerFinishesInFlightEventAfterStop(t *testing.T) {
	fx := newPollFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	profile := &models.DeviceProfile{
		ID:         "zk-1",
		Name:       "Lobby",
		VendorKind: models.VendorZK,
		Host:       "10.0.0.10",
		Port:       4370,
		Direction:  models.DirectionAlternating,
		Active:     true,
		IsLive:     true,
	}
	if err := fx.db.CreateDevice(context.Background(), profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := fx.db.MapIdentity(context.Background(), &models.IdentityMapping{
		DeviceID: "zk-1", DeviceUserID: "U1", EmployeeRef: "EMP-100",
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}

	w := NewLiveWorker("zk-1", fx.db, fx.runner.cursors,
		attendance.NewNormalizer(fx.db), attendance.NewReconciler(fx.led), nil, LiveConfig{})
	handler := w.eventHandler(ctx, profile)

	// The device delivers a punch just as the worker is being stopped. The
	// device already considers the event acked, so dropping it would lose
	// the punch for good.
	cancel()

	instant := time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)
	if err := handler(models.RawEvent{DeviceID: "zk-1", DeviceUserID: "U1", Instant: instant}); err != nil {
		t.Fatalf("handler after cancel: %v", err)
	}

	acts, err := fx.led.ListActivities(context.Background(), "EMP-100", "2026-03-15")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities, want the in-flight punch recorded", len(acts))
	}

	cur, err := fx.runner.cursors.Load("zk-1")
	if err != nil {
		t.Fatalf("cursor not saved: %v", err)
	}
	if !cur.LastFetch().Equal(instant) {
		t.Errorf("cursor LastFetch = %v, want %v", cur.LastFetch(), instant)
	}
}
