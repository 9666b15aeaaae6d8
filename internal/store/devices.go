// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tomtom215/clockbridge/internal/models"
)

// ErrDeviceNotFound is returned when a device id has no row.
var ErrDeviceNotFound = errors.New("device not found")

// CreateDevice inserts a new device profile.
func (d *DB) CreateDevice(ctx context.Context, profile *models.DeviceProfile) error {
	if err := d.orm.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// GetDevice loads one device profile by id.
func (d *DB) GetDevice(ctx context.Context, id string) (*models.DeviceProfile, error) {
	var profile models.DeviceProfile
	err := d.orm.WithContext(ctx).First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &profile, nil
}

// ListDevices returns all non-archived devices.
func (d *DB) ListDevices(ctx context.Context) ([]models.DeviceProfile, error) {
	var devices []models.DeviceProfile
	if err := d.orm.WithContext(ctx).Where("active = ?", true).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// ListScheduledDevices returns active devices flagged for scheduled polling
// with a usable interval.
func (d *DB) ListScheduledDevices(ctx context.Context) ([]models.DeviceProfile, error) {
	var devices []models.DeviceProfile
	err := d.orm.WithContext(ctx).
		Where("active = ? AND is_scheduled = ? AND poll_interval_seconds > 0", true, true).
		Order("id").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled devices: %w", err)
	}
	return devices, nil
}

// ListLiveDevices returns active devices flagged for live capture.
func (d *DB) ListLiveDevices(ctx context.Context) ([]models.DeviceProfile, error) {
	var devices []models.DeviceProfile
	err := d.orm.WithContext(ctx).
		Where("active = ? AND is_live = ?", true, true).
		Order("id").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("list live devices: %w", err)
	}
	return devices, nil
}

// SaveDevice persists all fields of an existing profile.
func (d *DB) SaveDevice(ctx context.Context, profile *models.DeviceProfile) error {
	if err := d.orm.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

// SetAcquisitionMode flips the live/scheduled flags atomically, enforcing
// their mutual exclusion at the storage layer as well as in the supervisor.
func (d *DB) SetAcquisitionMode(ctx context.Context, id string, live, scheduled bool) error {
	if live && scheduled {
		return fmt.Errorf("device %s: live and scheduled are mutually exclusive", id)
	}
	res := d.orm.WithContext(ctx).Model(&models.DeviceProfile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_live": live, "is_scheduled": scheduled})
	if res.Error != nil {
		return fmt.Errorf("set acquisition mode: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// TouchLastFetch advances the device's generic timestamp cursor mirror.
func (d *DB) TouchLastFetch(ctx context.Context, id string, instant time.Time) error {
	res := d.orm.WithContext(ctx).Model(&models.DeviceProfile{}).
		Where("id = ?", id).
		Update("last_fetch_instant", instant)
	if res.Error != nil {
		return fmt.Errorf("touch last fetch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes the profile and cascades its identity mappings.
// Cursor cleanup is the caller's responsibility (separate store).
func (d *DB) DeleteDevice(ctx context.Context, id string) error {
	return d.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", id).Delete(&models.IdentityMapping{}).Error; err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		res := tx.Delete(&models.DeviceProfile{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete device: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrDeviceNotFound
		}
		return nil
	})
}
