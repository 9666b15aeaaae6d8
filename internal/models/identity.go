// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package models

import "time"

// IdentityMapping associates a device-local user identifier with a system
// employee. Unique per (DeviceID, DeviceUserID); cascade-deleted with the
// owning device.
type IdentityMapping struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	DeviceID     string `gorm:"size:64;uniqueIndex:idx_device_user;index" json:"device_id"`
	DeviceUserID string `gorm:"size:64;uniqueIndex:idx_device_user" json:"device_user_id"`
	EmployeeRef  string `gorm:"size:64;index" json:"employee_ref"`

	// RefUserID is the numeric alias some vendors (COSEC) require on the
	// device side. Allocated automatically during provisioning when the
	// device rejects the requested id.
	RefUserID *int `json:"ref_user_id,omitempty"`

	// CardNumber is the physical card mapped on card-addressed vendors.
	CardNumber string `gorm:"size:64" json:"card_number,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Employee is the directory record the core needs: a stable reference, a
// display name, and the external badge id used for directory-driven
// auto-provisioning of identity mappings.
type Employee struct {
	Ref         string `gorm:"primaryKey;size:64" json:"ref"`
	DisplayName string `gorm:"size:128" json:"display_name"`
	BadgeID     string `gorm:"size:64;index" json:"badge_id,omitempty"`

	// Active mirrors the directory's employment status; deactivating an
	// employee removes their device mappings.
	Active bool `gorm:"index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
