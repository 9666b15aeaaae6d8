// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package models

import "time"

// PunchDirection is the resolved direction of a normalized punch.
type PunchDirection string

// Resolved punch directions.
const (
	PunchIn  PunchDirection = "IN"
	PunchOut PunchDirection = "OUT"
)

// RawEvent is one attendance event exactly as a vendor adapter decoded it
// off the wire. DeviceUserID is the device-local identifier (numeric UID,
// alphanumeric badge, or card number depending on vendor); the identity map
// resolves it to an employee.
type RawEvent struct {
	DeviceID     string
	DeviceUserID string
	Instant      time.Time

	// VendorCode is the vendor punch/status code, nil when the vendor
	// supplies none (eTimeOffice) or the adapter could not decode it.
	VendorCode *int

	// Direction is set by adapters whose protocol carries an explicit
	// direction string instead of a numeric code (Dahua Entry/Exit).
	Direction PunchDirection

	// Sequence carries the COSEC (rollover, sequence) position of this
	// event so the poll runner can advance the sequence cursor to the
	// last event of the batch.
	Sequence *SequencePosition
}

// SequencePosition is a COSEC event position within the rollover epoch.
type SequencePosition struct {
	RollOver int
	Sequence int
}

// NormalizedPunch is a directional punch ready for the attendance ledger.
// It is transient: produced by the normalizer, consumed immediately by the
// reconciler, never persisted on its own.
type NormalizedPunch struct {
	EmployeeRef string
	DeviceID    string
	Instant     time.Time
	Direction   PunchDirection

	// Unresolved marks a punch whose direction could not be fixed at
	// normalization time; the reconciler resolves it against ledger state
	// at dispatch time, in chronological order.
	Unresolved bool

	// Alternating marks an unresolved punch governed by the alternating
	// policy: toggle against the employee's last recorded direction
	// rather than the open-activity fallback.
	Alternating bool
}

// CivilDate returns the punch date in the ledger's civil format.
func (p *NormalizedPunch) CivilDate() string {
	return p.Instant.Format("2006-01-02")
}

// CivilTime returns the punch wall-clock time in the ledger's civil format.
func (p *NormalizedPunch) CivilTime() string {
	return p.Instant.Format("15:04:05")
}
