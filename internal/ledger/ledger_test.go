// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/store"
)

func testLedger(t *testing.T) *Gorm {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	led, err := New(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return led
}

func TestClockInClockOut(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	in := time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)
	out := in.Add(9 * time.Hour)

	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "08:30:00", in); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}

	open, err := led.OpenActivity(ctx, "EMP-1", in.Add(time.Minute))
	if err != nil {
		t.Fatalf("OpenActivity: %v", err)
	}
	if !open {
		t.Fatal("expected open activity after clock in")
	}

	if err := led.ClockOut(ctx, "EMP-1", "2026-03-15", "17:30:00", out); err != nil {
		t.Fatalf("ClockOut: %v", err)
	}

	open, err = led.OpenActivity(ctx, "EMP-1", out.Add(time.Minute))
	if err != nil {
		t.Fatalf("OpenActivity: %v", err)
	}
	if open {
		t.Fatal("activity still open after clock out")
	}

	acts, err := led.ListActivities(ctx, "EMP-1", "2026-03-15")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities, want 1", len(acts))
	}
	if acts[0].OutTime == nil || *acts[0].OutTime != "17:30:00" {
		t.Errorf("OutTime = %v, want 17:30:00", acts[0].OutTime)
	}
}

func TestClockInReplayIsNoOp(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	in := time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "08:30:00", in); err != nil {
			t.Fatalf("ClockIn replay %d: %v", i, err)
		}
	}

	acts, err := led.ListActivities(ctx, "EMP-1", "")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities after replay, want 1", len(acts))
	}
}

func TestClockOutReplayIsNoOp(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	in := time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)
	out := in.Add(9 * time.Hour)

	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "08:30:00", in); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := led.ClockOut(ctx, "EMP-1", "2026-03-15", "17:30:00", out); err != nil {
			t.Fatalf("ClockOut replay %d: %v", i, err)
		}
	}

	acts, err := led.ListActivities(ctx, "EMP-1", "")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities after replay, want 1 (no orphan rows)", len(acts))
	}
}

func TestClockOutClosesLatestOpenActivity(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	second := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	out := time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC)

	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "08:00:00", first); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}
	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "13:00:00", second); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}
	if err := led.ClockOut(ctx, "EMP-1", "2026-03-15", "17:00:00", out); err != nil {
		t.Fatalf("ClockOut: %v", err)
	}

	acts, err := led.ListActivities(ctx, "EMP-1", "")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("got %d activities, want 2", len(acts))
	}
	if acts[0].OutInstant != nil {
		t.Error("earlier activity closed; the latest open one must close")
	}
	if acts[1].OutInstant == nil || !acts[1].OutInstant.Equal(out) {
		t.Errorf("latest activity OutInstant = %v, want %v", acts[1].OutInstant, out)
	}
}

func TestOrphanClockOutRecorded(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	out := time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC)

	if err := led.ClockOut(ctx, "EMP-1", "2026-03-15", "17:00:00", out); err != nil {
		t.Fatalf("ClockOut: %v", err)
	}

	acts, err := led.ListActivities(ctx, "EMP-1", "")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities, want 1 zero-length row", len(acts))
	}
	if !acts[0].InInstant.Equal(out) || acts[0].OutInstant == nil || !acts[0].OutInstant.Equal(out) {
		t.Errorf("orphan row = %+v, want zero-length interval at %v", acts[0], out)
	}
}

func TestLastDirection(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	in := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

	if _, ok, err := led.LastDirection(ctx, "EMP-1"); err != nil || ok {
		t.Fatalf("LastDirection before any punch = ok %t err %v, want no history", ok, err)
	}

	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "08:00:00", in); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}
	dir, ok, err := led.LastDirection(ctx, "EMP-1")
	if err != nil || !ok || dir != models.PunchIn {
		t.Fatalf("LastDirection after in = (%v, %t, %v), want IN", dir, ok, err)
	}

	if err := led.ClockOut(ctx, "EMP-1", "2026-03-15", "17:00:00", in.Add(9*time.Hour)); err != nil {
		t.Fatalf("ClockOut: %v", err)
	}
	dir, ok, err = led.LastDirection(ctx, "EMP-1")
	if err != nil || !ok || dir != models.PunchOut {
		t.Fatalf("LastDirection after out = (%v, %t, %v), want OUT", dir, ok, err)
	}
}

func TestOpenActivityIgnoresFutureIns(t *testing.T) {
	led := testLedger(t)
	ctx := context.Background()
	in := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)

	if err := led.ClockIn(ctx, "EMP-1", "2026-03-15", "13:00:00", in); err != nil {
		t.Fatalf("ClockIn: %v", err)
	}

	open, err := led.OpenActivity(ctx, "EMP-1", in.Add(-time.Hour))
	if err != nil {
		t.Fatalf("OpenActivity: %v", err)
	}
	if open {
		t.Error("activity starting after asOf must not count as open")
	}
}
