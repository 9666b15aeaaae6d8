// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package validation

import (
	"fmt"
	"strings"

	"github.com/tomtom215/clockbridge/internal/models"
)

// ValidateDeviceProfile checks the per-vendor required fields a device
// profile must carry before any connection is attempted. Vendors fail fast
// on missing configuration rather than timing out against the device.
func ValidateDeviceProfile(p *models.DeviceProfile) error {
	var missing []string

	if p.Name == "" {
		missing = append(missing, "name")
	}
	if !p.VendorKind.Valid() {
		return fmt.Errorf("unknown vendor kind %q", p.VendorKind)
	}
	switch p.Direction {
	case models.DirectionIn, models.DirectionOut, models.DirectionAlternating, models.DirectionSystemDecided:
	default:
		return fmt.Errorf("unknown direction policy %q", p.Direction)
	}

	switch p.VendorKind {
	case models.VendorZK:
		missing = append(missing, requireAddr(p)...)
	case models.VendorAnviz:
		if p.APIURL == "" {
			missing = append(missing, "api_url")
		}
		if p.APIKey == "" {
			missing = append(missing, "api_key")
		}
		if p.APISecret == "" {
			missing = append(missing, "api_secret")
		}
	case models.VendorCOSEC, models.VendorDahua:
		missing = append(missing, requireAddr(p)...)
		missing = append(missing, requireLogin(p)...)
	case models.VendorETimeOffice:
		if p.APIURL == "" {
			missing = append(missing, "api_url")
		}
		missing = append(missing, requireLogin(p)...)
	}

	if len(missing) > 0 {
		return fmt.Errorf("vendor %s requires: %s", p.VendorKind, strings.Join(missing, ", "))
	}

	if p.IsLive && p.IsScheduled {
		return fmt.Errorf("live and scheduled acquisition are mutually exclusive")
	}
	if p.IsLive && !p.VendorKind.SupportsLive() {
		return fmt.Errorf("vendor %s does not support live capture", p.VendorKind)
	}
	return nil
}

func requireAddr(p *models.DeviceProfile) []string {
	var missing []string
	if p.Host == "" {
		missing = append(missing, "host")
	}
	if p.Port <= 0 || p.Port > 65535 {
		missing = append(missing, "port")
	}
	return missing
}

func requireLogin(p *models.DeviceProfile) []string {
	var missing []string
	if p.Username == "" {
		missing = append(missing, "username")
	}
	if p.Password == "" {
		missing = append(missing, "password")
	}
	return missing
}
