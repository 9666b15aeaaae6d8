// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package vendors implements the protocol clients for the five supported
// attendance-device families behind one Adapter contract.
//
// Each vendor file keeps its wire handling and error-code tables local;
// callers only ever see normalized RawEvents, tagged cursors, and the
// classified error taxonomy from errors.go.
package vendors

import (
	"context"
	"time"

	"github.com/tomtom215/clockbridge/internal/models"
)

// Credential is the session material Authenticate yields. Its meaning is
// vendor-specific: an API token with expiry (Anviz), a binary session id
// (ZK), or nothing at all for vendors authenticated per request.
type Credential struct {
	Token     string
	Expiry    time.Time
	SessionID uint16
}

// Adapter is the capability set every vendor client implements.
//
// FetchEvents returns only events strictly newer than the cursor, together
// with the cursor positioned at the last event of the returned batch. An
// empty batch returns the input cursor unchanged. Errors are always
// classified (*Error).
type Adapter interface {
	// Kind identifies the protocol family.
	Kind() models.VendorKind

	// Authenticate establishes or verifies a session. For per-request
	// auth vendors this performs a cheap reachability+credential probe.
	Authenticate(ctx context.Context) (Credential, error)

	// FetchEvents consumes attendance events newer than cursor.
	FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error)

	// Disconnect releases the underlying connection. Safe to call twice.
	Disconnect() error
}

// LiveCapturer is implemented by adapters whose protocol can push events
// over an open session (ZK). Capture blocks, invoking onEvent for each
// pushed event until ctx is canceled or the connection drops.
type LiveCapturer interface {
	Capture(ctx context.Context, onEvent func(models.RawEvent) error) error
}

// UserProvisioner is implemented by adapters that can enroll users on the
// device (COSEC). ProvisionUser pushes the device-local user record and
// returns the reference user id the device finally accepted, allocating a
// fresh one when the requested id conflicts.
type UserProvisioner interface {
	ProvisionUser(ctx context.Context, deviceUserID, name string, refUserID int) (int, error)
}

// New constructs the adapter for a device profile. The profile must already
// have passed validation; a wrong vendor kind here is a config error.
func New(profile *models.DeviceProfile) (Adapter, error) {
	switch profile.VendorKind {
	case models.VendorZK:
		return newZKAdapter(profile), nil
	case models.VendorAnviz:
		return newAnvizAdapter(profile), nil
	case models.VendorCOSEC:
		return newCOSECAdapter(profile), nil
	case models.VendorDahua:
		return newDahuaAdapter(profile), nil
	case models.VendorETimeOffice:
		return newETimeOfficeAdapter(profile), nil
	default:
		return nil, configErr(profile.VendorKind, "unsupported vendor kind")
	}
}
