// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/clockbridge/internal/models"
)

type ledgerCall struct {
	op       string
	employee string
	instant  time.Time
}

// fakeLedger tracks per-employee state the way the real ledger does, so
// late-binding direction resolution sees its own earlier writes.
type fakeLedger struct {
	calls   []ledgerCall
	open    map[string]bool
	last    map[string]models.PunchDirection
	failFor map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		open:    make(map[string]bool),
		last:    make(map[string]models.PunchDirection),
		failFor: make(map[string]error),
	}
}

func (f *fakeLedger) ClockIn(_ context.Context, employeeRef, _, _ string, instant time.Time) error {
	if err := f.failFor[employeeRef]; err != nil {
		return err
	}
	f.calls = append(f.calls, ledgerCall{"in", employeeRef, instant})
	f.open[employeeRef] = true
	f.last[employeeRef] = models.PunchIn
	return nil
}

func (f *fakeLedger) ClockOut(_ context.Context, employeeRef, _, _ string, instant time.Time) error {
	if err := f.failFor[employeeRef]; err != nil {
		return err
	}
	f.calls = append(f.calls, ledgerCall{"out", employeeRef, instant})
	f.open[employeeRef] = false
	f.last[employeeRef] = models.PunchOut
	return nil
}

func (f *fakeLedger) OpenActivity(_ context.Context, employeeRef string, _ time.Time) (bool, error) {
	return f.open[employeeRef], nil
}

func (f *fakeLedger) LastDirection(_ context.Context, employeeRef string) (models.PunchDirection, bool, error) {
	dir, ok := f.last[employeeRef]
	return dir, ok, nil
}

func punchAt(employee string, hour int, dir models.PunchDirection) models.NormalizedPunch {
	return models.NormalizedPunch{
		EmployeeRef: employee,
		DeviceID:    "dev-1",
		Instant:     time.Date(2026, 3, 15, hour, 0, 0, 0, time.UTC),
		Direction:   dir,
	}
}

func unresolvedAt(employee string, hour int, alternating bool) models.NormalizedPunch {
	p := punchAt(employee, hour, "")
	p.Unresolved = true
	p.Alternating = alternating
	return p
}

func TestReconcileChronologicalOrder(t *testing.T) {
	led := newFakeLedger()
	r := NewReconciler(led)

	// Arrival order is reversed; dispatch must follow the instants.
	res := r.Reconcile(context.Background(), []models.NormalizedPunch{
		punchAt("EMP-1", 17, models.PunchOut),
		punchAt("EMP-1", 8, models.PunchIn),
	})

	if res.ClockIns != 1 || res.ClockOuts != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(led.calls) != 2 {
		t.Fatalf("got %d ledger calls, want 2", len(led.calls))
	}
	if led.calls[0].op != "in" || led.calls[1].op != "out" {
		t.Errorf("dispatch order = %s, %s; want in, out", led.calls[0].op, led.calls[1].op)
	}
	if !led.calls[0].instant.Before(led.calls[1].instant) {
		t.Error("calls not chronological")
	}
}

func TestReconcileAlternatingToggles(t *testing.T) {
	led := newFakeLedger()
	r := NewReconciler(led)

	res := r.Reconcile(context.Background(), []models.NormalizedPunch{
		unresolvedAt("EMP-1", 8, true),
		unresolvedAt("EMP-1", 12, true),
		unresolvedAt("EMP-1", 13, true),
		unresolvedAt("EMP-1", 17, true),
	})

	if res.Failed != 0 {
		t.Fatalf("failed = %d", res.Failed)
	}
	want := []string{"in", "out", "in", "out"}
	if len(led.calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(led.calls), len(want))
	}
	for i, op := range want {
		if led.calls[i].op != op {
			t.Errorf("calls[%d] = %s, want %s", i, led.calls[i].op, op)
		}
	}
}

func TestReconcileAlternatingStartsIn(t *testing.T) {
	led := newFakeLedger()
	r := NewReconciler(led)

	r.Reconcile(context.Background(), []models.NormalizedPunch{unresolvedAt("EMP-NEW", 8, true)})

	if len(led.calls) != 1 || led.calls[0].op != "in" {
		t.Fatalf("first-ever alternating punch = %+v, want clock-in", led.calls)
	}
}

func TestReconcileOpenActivityFallback(t *testing.T) {
	t.Run("no open activity means in", func(t *testing.T) {
		led := newFakeLedger()
		r := NewReconciler(led)
		r.Reconcile(context.Background(), []models.NormalizedPunch{unresolvedAt("EMP-1", 8, false)})
		if len(led.calls) != 1 || led.calls[0].op != "in" {
			t.Fatalf("calls = %+v, want single clock-in", led.calls)
		}
	})

	t.Run("open activity means out", func(t *testing.T) {
		led := newFakeLedger()
		led.open["EMP-1"] = true
		r := NewReconciler(led)
		r.Reconcile(context.Background(), []models.NormalizedPunch{unresolvedAt("EMP-1", 17, false)})
		if len(led.calls) != 1 || led.calls[0].op != "out" {
			t.Fatalf("calls = %+v, want single clock-out", led.calls)
		}
	})
}

func TestReconcileFailureIsolation(t *testing.T) {
	led := newFakeLedger()
	led.failFor["EMP-BAD"] = errors.New("constraint violation")
	r := NewReconciler(led)

	res := r.Reconcile(context.Background(), []models.NormalizedPunch{
		punchAt("EMP-1", 8, models.PunchIn),
		punchAt("EMP-BAD", 9, models.PunchIn),
		punchAt("EMP-2", 10, models.PunchIn),
	})

	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if res.ClockIns != 2 {
		t.Errorf("clock-ins = %d, want 2 (batch continues past failure)", res.ClockIns)
	}
}

func TestReconcileDirectionlessPunchFails(t *testing.T) {
	led := newFakeLedger()
	r := NewReconciler(led)

	res := r.Reconcile(context.Background(), []models.NormalizedPunch{punchAt("EMP-1", 8, "")})
	if res.Failed != 1 || res.Processed() != 0 {
		t.Fatalf("result = %+v, want one failure", res)
	}
}

func TestReconcileOnPunchCallback(t *testing.T) {
	led := newFakeLedger()
	r := NewReconciler(led)

	var notified []models.NormalizedPunch
	r.OnPunch = func(p models.NormalizedPunch) { notified = append(notified, p) }

	led.failFor["EMP-BAD"] = errors.New("down")
	r.Reconcile(context.Background(), []models.NormalizedPunch{
		unresolvedAt("EMP-1", 8, false),
		punchAt("EMP-BAD", 9, models.PunchIn),
	})

	if len(notified) != 1 {
		t.Fatalf("notified %d punches, want 1 (failures excluded)", len(notified))
	}
	if notified[0].Direction != models.PunchIn || notified[0].Unresolved {
		t.Errorf("callback punch = %+v, want resolved clock-in", notified[0])
	}
}
