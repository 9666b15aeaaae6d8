// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package attendance

import (
	"context"
	"fmt"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// Normalizer maps raw vendor events into directional punches under the
// owning device's direction policy.
//
// Resolution order: a forced in/out policy wins over any vendor code; the
// alternating policy defers to the reconciler's last-direction toggle; a
// systemDecided policy uses the vendor's own punch code or direction string
// where present and otherwise defers to the reconciler's open-activity
// fallback.
type Normalizer struct {
	identity IdentityResolver
}

// NewNormalizer creates a normalizer backed by the given identity map.
func NewNormalizer(identity IdentityResolver) *Normalizer {
	return &Normalizer{identity: identity}
}

// Normalize converts one raw event. ok is false when the device-local user
// id has no identity mapping and the event should be silently skipped.
func (n *Normalizer) Normalize(ctx context.Context, profile *models.DeviceProfile, ev models.RawEvent) (models.NormalizedPunch, bool, error) {
	employeeRef, ok, err := n.identity.Resolve(ctx, ev.DeviceID, ev.DeviceUserID)
	if err != nil {
		return models.NormalizedPunch{}, false, fmt.Errorf("resolve identity %s/%s: %w", ev.DeviceID, ev.DeviceUserID, err)
	}
	if !ok {
		metrics.PunchesSkippedUnmapped.Inc()
		logging.Trace().
			Str("device", ev.DeviceID).
			Str("device_user", ev.DeviceUserID).
			Msg("unmapped device user, punch skipped")
		return models.NormalizedPunch{}, false, nil
	}

	punch := models.NormalizedPunch{
		EmployeeRef: employeeRef,
		DeviceID:    ev.DeviceID,
		Instant:     ev.Instant,
	}

	switch profile.Direction {
	case models.DirectionIn:
		punch.Direction = models.PunchIn
	case models.DirectionOut:
		punch.Direction = models.PunchOut
	case models.DirectionAlternating:
		punch.Unresolved = true
		punch.Alternating = true
	case models.DirectionSystemDecided:
		if dir, resolved := vendorDirection(profile.VendorKind, ev); resolved {
			punch.Direction = dir
		} else {
			punch.Unresolved = true
		}
	default:
		return models.NormalizedPunch{}, false, fmt.Errorf("device %s: unknown direction policy %q", profile.ID, profile.Direction)
	}

	return punch, true, nil
}

// NormalizeBatch converts a batch, dropping unmapped events. An identity
// store failure aborts the batch so the cursor does not advance past
// events that were never dispatched.
func (n *Normalizer) NormalizeBatch(ctx context.Context, profile *models.DeviceProfile, events []models.RawEvent) ([]models.NormalizedPunch, error) {
	punches := make([]models.NormalizedPunch, 0, len(events))
	for _, ev := range events {
		punch, ok, err := n.Normalize(ctx, profile, ev)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		punches = append(punches, punch)
	}
	return punches, nil
}

// vendorDirection extracts the vendor-supplied direction, preferring an
// explicit direction string (Dahua) over the numeric code tables.
func vendorDirection(kind models.VendorKind, ev models.RawEvent) (models.PunchDirection, bool) {
	if ev.Direction != "" {
		return ev.Direction, true
	}
	if ev.VendorCode == nil {
		return "", false
	}
	return vendors.DirectionFromCode(kind, *ev.VendorCode)
}
