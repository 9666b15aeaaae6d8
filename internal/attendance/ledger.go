// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package attendance turns raw device events into directional clock-in /
// clock-out calls against the attendance ledger: the normalizer resolves
// identity and direction policy, the reconciler dispatches in chronological
// order with per-punch failure isolation.
package attendance

import (
	"context"
	"time"

	"github.com/tomtom215/clockbridge/internal/models"
)

// Ledger is the external attendance ledger boundary. Implementations must
// tolerate duplicate ClockIn/ClockOut calls for the same employee and
// instant without corrupting state: the cursor discipline guarantees
// at-least-once delivery, so every punch may be replayed.
type Ledger interface {
	// ClockIn opens an attendance activity at the given instant.
	ClockIn(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error

	// ClockOut closes the employee's open activity at the given instant.
	ClockOut(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error

	// OpenActivity reports whether the employee has a not-yet-closed
	// activity as of the given instant.
	OpenActivity(ctx context.Context, employeeRef string, asOf time.Time) (bool, error)

	// LastDirection returns the direction of the employee's most recent
	// recorded punch. ok is false when the employee has no history.
	LastDirection(ctx context.Context, employeeRef string) (models.PunchDirection, bool, error)
}

// IdentityResolver maps a device-local user id to an employee reference.
// ok is false for unmapped ids, which is not an error: devices commonly
// carry unmapped service accounts.
type IdentityResolver interface {
	Resolve(ctx context.Context, deviceID, deviceUserID string) (employeeRef string, ok bool, err error)
}
