// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import "github.com/tomtom215/clockbridge/internal/models"

// Punch-code direction tables. These encode hardware button semantics and
// are kept as pure data here, next to the protocol clients, rather than
// scattered through the reconciler.
//
// The upstream firmware documentation disagrees between live and batch
// paths for ZK; Clockbridge uses one canonical table per vendor for both
// acquisition modes (see DESIGN.md).

// zkInCodes: check-in (0), overtime-in (4), and break-end (3) count as IN;
// every other ZK status code is OUT.
var zkInCodes = map[int]bool{0: true, 3: true, 4: true}

// anvizDirections maps the Anviz checktype field.
var anvizDirections = map[int]models.PunchDirection{
	0: models.PunchIn,
	1: models.PunchOut,
}

// DirectionFromCode resolves a vendor punch code to a direction.
// ok is false when the vendor has no table or the code is not mapped,
// in which case the punch stays unresolved for the reconciler.
func DirectionFromCode(kind models.VendorKind, code int) (models.PunchDirection, bool) {
	switch kind {
	case models.VendorZK:
		if zkInCodes[code] {
			return models.PunchIn, true
		}
		return models.PunchOut, true
	case models.VendorCOSEC:
		// COSEC entry/exit detail codes: odd codes are entry readers,
		// even codes exit readers.
		if code%2 == 1 {
			return models.PunchIn, true
		}
		return models.PunchOut, true
	case models.VendorAnviz:
		dir, ok := anvizDirections[code]
		return dir, ok
	default:
		// Dahua carries a direction string, not a code; eTimeOffice
		// supplies neither.
		return "", false
	}
}
