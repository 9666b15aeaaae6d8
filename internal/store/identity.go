// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tomtom215/clockbridge/internal/models"
)

// ErrMappingNotFound is returned when a (device, device user) pair has no
// identity mapping row.
var ErrMappingNotFound = errors.New("identity mapping not found")

// MapIdentity upserts the mapping for (deviceID, deviceUserID). Remapping an
// already-mapped device user to a different employee replaces the old row.
func (d *DB) MapIdentity(ctx context.Context, mapping *models.IdentityMapping) error {
	err := d.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_id"}, {Name: "device_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"employee_ref", "ref_user_id", "card_number", "updated_at",
			}),
		}).
		Create(mapping).Error
	if err != nil {
		return fmt.Errorf("map identity %s/%s: %w", mapping.DeviceID, mapping.DeviceUserID, err)
	}
	return nil
}

// UnmapIdentity removes the mapping for (deviceID, deviceUserID).
func (d *DB) UnmapIdentity(ctx context.Context, deviceID, deviceUserID string) error {
	res := d.orm.WithContext(ctx).
		Where("device_id = ? AND device_user_id = ?", deviceID, deviceUserID).
		Delete(&models.IdentityMapping{})
	if res.Error != nil {
		return fmt.Errorf("unmap identity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// GetMapping loads one mapping by its device-side key.
func (d *DB) GetMapping(ctx context.Context, deviceID, deviceUserID string) (*models.IdentityMapping, error) {
	var m models.IdentityMapping
	err := d.orm.WithContext(ctx).
		Where("device_id = ? AND device_user_id = ?", deviceID, deviceUserID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

// ListMappingsForDevice returns every mapping carried by one device.
func (d *DB) ListMappingsForDevice(ctx context.Context, deviceID string) ([]models.IdentityMapping, error) {
	var out []models.IdentityMapping
	err := d.orm.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("device_user_id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return out, nil
}

// ListMappingsForEmployee returns an employee's mappings across all devices.
func (d *DB) ListMappingsForEmployee(ctx context.Context, employeeRef string) ([]models.IdentityMapping, error) {
	var out []models.IdentityMapping
	err := d.orm.WithContext(ctx).
		Where("employee_ref = ?", employeeRef).
		Order("device_id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list employee mappings: %w", err)
	}
	return out, nil
}

// UnmapEmployee removes all of an employee's mappings, used when the
// directory deactivates them. Returns the number of rows removed.
func (d *DB) UnmapEmployee(ctx context.Context, employeeRef string) (int64, error) {
	res := d.orm.WithContext(ctx).
		Where("employee_ref = ?", employeeRef).
		Delete(&models.IdentityMapping{})
	if res.Error != nil {
		return 0, fmt.Errorf("unmap employee: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Resolve implements attendance.IdentityResolver. Unmapped device users are
// reported with ok=false, not an error.
func (d *DB) Resolve(ctx context.Context, deviceID, deviceUserID string) (string, bool, error) {
	m, err := d.GetMapping(ctx, deviceID, deviceUserID)
	if errors.Is(err, ErrMappingNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.EmployeeRef, true, nil
}
