// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package directory maintains the employee roster and its link to device
// identities: roster upserts, badge-driven auto-mapping of unknown device
// users, and push provisioning onto vendors that accept user writes.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// Service coordinates roster state with identity mappings.
type Service struct {
	db *store.DB
}

// New creates a directory service over the shared store.
func New(db *store.DB) *Service {
	return &Service{db: db}
}

// SyncEmployee upserts one roster record. Deactivation removes all of the
// employee's device mappings so their punches stop resolving.
func (s *Service) SyncEmployee(ctx context.Context, emp *models.Employee) error {
	if err := s.db.UpsertEmployee(ctx, emp); err != nil {
		return err
	}
	if emp.Active {
		return nil
	}
	removed, err := s.db.UnmapEmployee(ctx, emp.Ref)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Info().
			Str("employee", emp.Ref).
			Int64("mappings_removed", removed).
			Msg("deactivated employee unmapped from devices")
	}
	return nil
}

// AutoMap tries to map an unknown device user by treating the device-local
// id as a badge id. ok is false when no active employee carries the badge.
func (s *Service) AutoMap(ctx context.Context, deviceID, deviceUserID string) (string, bool, error) {
	emp, err := s.db.GetEmployeeByBadge(ctx, deviceUserID)
	if errors.Is(err, store.ErrEmployeeNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	mapping := &models.IdentityMapping{
		DeviceID:     deviceID,
		DeviceUserID: deviceUserID,
		EmployeeRef:  emp.Ref,
		CardNumber:   deviceUserID,
	}
	if err := s.db.MapIdentity(ctx, mapping); err != nil {
		return "", false, err
	}
	logging.Info().
		Str("device", deviceID).
		Str("device_user", deviceUserID).
		Str("employee", emp.Ref).
		Msg("auto-mapped device user by badge")
	return emp.Ref, true, nil
}

// ProvisionToDevice pushes an employee onto a device that supports user
// writes and records the resulting mapping, including the numeric alias the
// device finally accepted.
func (s *Service) ProvisionToDevice(ctx context.Context, profile *models.DeviceProfile, employeeRef, deviceUserID string) error {
	emp, err := s.db.GetEmployee(ctx, employeeRef)
	if err != nil {
		return err
	}

	adapter, err := vendors.New(profile)
	if err != nil {
		return err
	}
	provisioner, ok := adapter.(vendors.UserProvisioner)
	if !ok {
		return fmt.Errorf("vendor %s does not support user provisioning", profile.VendorKind)
	}
	if _, err := adapter.Authenticate(ctx); err != nil {
		return err
	}
	defer func() { _ = adapter.Disconnect() }()

	refUserID, err := s.nextRefUserID(ctx, profile.ID, deviceUserID)
	if err != nil {
		return err
	}
	accepted, err := provisioner.ProvisionUser(ctx, deviceUserID, emp.DisplayName, refUserID)
	if err != nil {
		return err
	}

	mapping := &models.IdentityMapping{
		DeviceID:     profile.ID,
		DeviceUserID: deviceUserID,
		EmployeeRef:  employeeRef,
		RefUserID:    &accepted,
	}
	if err := s.db.MapIdentity(ctx, mapping); err != nil {
		return err
	}
	logging.Info().
		Str("device", profile.ID).
		Str("employee", employeeRef).
		Int("ref_user_id", accepted).
		Msg("employee provisioned to device")
	return nil
}

// nextRefUserID picks the numeric alias to request: the device user id
// itself when numeric, otherwise one past the highest alias already mapped
// on the device.
func (s *Service) nextRefUserID(ctx context.Context, deviceID, deviceUserID string) (int, error) {
	if n, err := strconv.Atoi(deviceUserID); err == nil && n > 0 {
		return n, nil
	}
	mappings, err := s.db.ListMappingsForDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	max := 0
	for i := range mappings {
		if id := mappings[i].RefUserID; id != nil && *id > max {
			max = *id
		}
	}
	return max + 1, nil
}
