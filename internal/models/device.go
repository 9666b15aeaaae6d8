// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package models defines the persistent and transient data types shared by
// the device adapters, the acquisition pipeline, and the control API.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VendorKind identifies the protocol family a device speaks.
type VendorKind string

// Supported vendor protocol families.
const (
	VendorZK          VendorKind = "zk"          // binary TCP socket, supports live capture
	VendorAnviz       VendorKind = "anviz"       // JSON over HTTP, token auth
	VendorCOSEC       VendorKind = "cosec"       // XML over HTTP, basic auth, sequence cursor
	VendorDahua       VendorKind = "dahua"       // digest-auth HTTP, key=value records
	VendorETimeOffice VendorKind = "etimeoffice" // basic-auth REST, date-range queries
)

// AllVendorKinds lists every supported vendor, in stable order.
var AllVendorKinds = []VendorKind{
	VendorZK, VendorAnviz, VendorCOSEC, VendorDahua, VendorETimeOffice,
}

// Valid reports whether the kind names a supported vendor.
func (k VendorKind) Valid() bool {
	switch k {
	case VendorZK, VendorAnviz, VendorCOSEC, VendorDahua, VendorETimeOffice:
		return true
	default:
		return false
	}
}

// SupportsLive reports whether the vendor protocol has a live-capture mode.
// ZK streams events over the open session; COSEC is polled continuously over
// the same credentials, which the worker treats as live.
func (k VendorKind) SupportsLive() bool {
	return k == VendorZK || k == VendorCOSEC
}

// DirectionPolicy governs how a raw punch maps to IN/OUT when the vendor
// does not supply a reliable direction code.
type DirectionPolicy string

// Direction policies.
const (
	DirectionIn            DirectionPolicy = "in"            // force every punch to clock-in
	DirectionOut           DirectionPolicy = "out"           // force every punch to clock-out
	DirectionAlternating   DirectionPolicy = "alternating"   // toggle against the employee's last punch
	DirectionSystemDecided DirectionPolicy = "systemDecided" // vendor code, else open-activity state
)

// Valid reports whether the policy is one of the defined values.
func (d DirectionPolicy) Valid() bool {
	switch d {
	case DirectionIn, DirectionOut, DirectionAlternating, DirectionSystemDecided:
		return true
	default:
		return false
	}
}

// DeviceProfile is the unit everything else is scoped around: the connection
// parameters, acquisition mode flags, and generic cursor state for one
// physical attendance device.
//
// Connection fields are a superset; which ones are required depends on
// VendorKind (see validation.DeviceProfile rules). Secrets are stored
// verbatim and must never be logged unsanitized.
type DeviceProfile struct {
	ID   string `gorm:"primaryKey;size:64" json:"id"`
	Name string `gorm:"size:128" json:"name" validate:"required,min=1,max=128"`

	VendorKind VendorKind `gorm:"size:16;index" json:"vendor_kind" validate:"required"`

	// Socket vendors (zk, cosec, dahua).
	Host string `gorm:"size:128" json:"host,omitempty"`
	Port int    `json:"port,omitempty" validate:"gte=0,lte=65535"`

	// ZK numeric communication key.
	CommKey int `json:"comm_key,omitempty"`

	// Username/password vendors (cosec, dahua, etimeoffice).
	Username string `gorm:"size:64" json:"username,omitempty"`
	Password string `gorm:"size:128" json:"-"`

	// API vendors (anviz, etimeoffice).
	APIURL    string `gorm:"size:256" json:"api_url,omitempty" validate:"omitempty,url"`
	APIKey    string `gorm:"size:128" json:"-"`
	APISecret string `gorm:"size:128" json:"-"`

	// Vendor-issued request-correlation id (anviz).
	RequestID string `gorm:"size:64" json:"request_id,omitempty"`

	Direction DirectionPolicy `gorm:"size:16" json:"direction" validate:"required"`

	// Acquisition mode. IsLive and IsScheduled are mutually exclusive; the
	// supervisor enforces this at runtime and SetLive/SetSchedule flip the
	// other flag off before persisting.
	IsLive      bool `json:"is_live"`
	IsScheduled bool `json:"is_scheduled"`

	// PollIntervalSeconds must be > 0 for the device to be scheduled.
	PollIntervalSeconds int `json:"poll_interval_seconds" validate:"gte=0"`

	// LastFetchInstant is the generic timestamp cursor for vendors that
	// report events by time (zk, dahua, etimeoffice, and the anviz page
	// filter). Sequence-cursor state lives in the cursor store.
	LastFetchInstant time.Time `json:"last_fetch_instant"`

	// Active is the soft-delete flag. Archived devices are excluded from
	// scheduling and connection attempts.
	Active bool `gorm:"index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PollInterval returns the scheduling interval as a duration.
func (d *DeviceProfile) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// Addr returns the host:port dial address for socket vendors.
func (d *DeviceProfile) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// ParsePollInterval converts an "HH:MM" duration string into seconds.
// Administrators enter poll intervals in hours and minutes; internally the
// scheduler works in seconds.
func ParsePollInterval(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("poll interval %q: want HH:MM", hhmm)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("poll interval %q: bad hours", hhmm)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("poll interval %q: bad minutes", hhmm)
	}
	return hours*3600 + minutes*60, nil
}
