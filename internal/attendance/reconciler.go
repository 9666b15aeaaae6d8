// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package attendance

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/models"
)

// Reconciler dispatches normalized punches to the attendance ledger.
//
// Processing order is chronological by event instant, never arrival order:
// device-local sequences do not match wall-clock order across merged
// multi-device fetches, and direction resolution depends on the ledger
// state left behind by every earlier punch.
type Reconciler struct {
	ledger Ledger

	// OnPunch, when set, fires after each punch reaches the ledger, with
	// the direction fully resolved.
	OnPunch func(models.NormalizedPunch)
}

// NewReconciler creates a reconciler over the given ledger.
func NewReconciler(ledger Ledger) *Reconciler {
	return &Reconciler{ledger: ledger}
}

// Result summarizes one reconciled batch.
type Result struct {
	ClockIns  int
	ClockOuts int
	Failed    int
}

// Processed returns the number of punches that reached the ledger.
func (r Result) Processed() int { return r.ClockIns + r.ClockOuts }

// Reconcile sorts the batch by instant and dispatches each punch. A ledger
// failure for one punch is logged and counted, never aborts the remainder:
// the cursor only advances after the batch has been dispatched, and the
// ledger's idempotence makes redelivery safe.
func (r *Reconciler) Reconcile(ctx context.Context, punches []models.NormalizedPunch) Result {
	res, _ := r.ReconcileMerged(ctx, punches)
	return res
}

// ReconcileMerged dispatches a batch that may span several devices and
// additionally attributes the outcome per source device. Bulk fetches merge
// every device's punches into one batch so that direction resolution sees
// them in wall-clock order, then use the per-device results for reporting.
func (r *Reconciler) ReconcileMerged(ctx context.Context, punches []models.NormalizedPunch) (Result, map[string]Result) {
	sorted := make([]models.NormalizedPunch, len(punches))
	copy(sorted, punches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Instant.Before(sorted[j].Instant)
	})

	var res Result
	perDevice := make(map[string]Result)
	for i := range sorted {
		punch := &sorted[i]
		dev := perDevice[punch.DeviceID]
		if err := r.dispatch(ctx, punch); err != nil {
			res.Failed++
			dev.Failed++
			perDevice[punch.DeviceID] = dev
			logging.Error().Err(err).
				Str("employee", punch.EmployeeRef).
				Time("instant", punch.Instant).
				Msg("ledger dispatch failed, continuing batch")
			continue
		}
		switch punch.Direction {
		case models.PunchIn:
			res.ClockIns++
			dev.ClockIns++
		case models.PunchOut:
			res.ClockOuts++
			dev.ClockOuts++
		}
		perDevice[punch.DeviceID] = dev
		metrics.PunchesReconciled.WithLabelValues(string(punch.Direction)).Inc()
		if r.OnPunch != nil {
			r.OnPunch(*punch)
		}
	}
	return res, perDevice
}

// dispatch resolves any remaining direction ambiguity and invokes the ledger.
func (r *Reconciler) dispatch(ctx context.Context, punch *models.NormalizedPunch) error {
	if punch.Unresolved {
		dir, err := r.resolveDirection(ctx, punch)
		if err != nil {
			return err
		}
		punch.Direction = dir
		punch.Unresolved = false
	}

	switch punch.Direction {
	case models.PunchIn:
		if err := r.ledger.ClockIn(ctx, punch.EmployeeRef, punch.CivilDate(), punch.CivilTime(), punch.Instant); err != nil {
			metrics.LedgerCallErrors.WithLabelValues("clock_in").Inc()
			return fmt.Errorf("clock in: %w", err)
		}
	case models.PunchOut:
		if err := r.ledger.ClockOut(ctx, punch.EmployeeRef, punch.CivilDate(), punch.CivilTime(), punch.Instant); err != nil {
			metrics.LedgerCallErrors.WithLabelValues("clock_out").Inc()
			return fmt.Errorf("clock out: %w", err)
		}
	default:
		return fmt.Errorf("punch for %s has no direction", punch.EmployeeRef)
	}
	return nil
}

// resolveDirection applies the late-binding direction rules.
//
// Alternating toggles against the employee's last recorded direction,
// starting from IN when no history exists. The systemDecided fallback asks
// whether an open activity exists as of the punch instant: open means OUT,
// otherwise IN.
func (r *Reconciler) resolveDirection(ctx context.Context, punch *models.NormalizedPunch) (models.PunchDirection, error) {
	if punch.Alternating {
		last, ok, err := r.ledger.LastDirection(ctx, punch.EmployeeRef)
		if err != nil {
			return "", fmt.Errorf("last direction: %w", err)
		}
		if ok && last == models.PunchIn {
			return models.PunchOut, nil
		}
		return models.PunchIn, nil
	}

	open, err := r.ledger.OpenActivity(ctx, punch.EmployeeRef, punch.Instant)
	if err != nil {
		return "", fmt.Errorf("open activity: %w", err)
	}
	if open {
		return models.PunchOut, nil
	}
	return models.PunchIn, nil
}
