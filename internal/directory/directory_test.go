// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/store"
)

func testService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func TestSyncEmployeeDeactivationUnmaps(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	if err := svc.SyncEmployee(ctx, &models.Employee{
		Ref: "EMP-1", DisplayName: "Ada Lovelace", Active: true,
	}); err != nil {
		t.Fatalf("SyncEmployee: %v", err)
	}
	if err := db.MapIdentity(ctx, &models.IdentityMapping{
		DeviceID: "dev-1", DeviceUserID: "42", EmployeeRef: "EMP-1",
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}
	if err := db.MapIdentity(ctx, &models.IdentityMapping{
		DeviceID: "dev-2", DeviceUserID: "7", EmployeeRef: "EMP-1",
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}

	// Re-syncing an active employee leaves the mappings alone.
	if err := svc.SyncEmployee(ctx, &models.Employee{
		Ref: "EMP-1", DisplayName: "Ada Lovelace", Active: true,
	}); err != nil {
		t.Fatalf("SyncEmployee: %v", err)
	}
	mappings, err := db.ListMappingsForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("ListMappingsForDevice: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("got %d mappings after active re-sync, want 1", len(mappings))
	}

	if err := svc.SyncEmployee(ctx, &models.Employee{
		Ref: "EMP-1", DisplayName: "Ada Lovelace", Active: false,
	}); err != nil {
		t.Fatalf("SyncEmployee deactivate: %v", err)
	}
	for _, dev := range []string{"dev-1", "dev-2"} {
		mappings, err := db.ListMappingsForDevice(ctx, dev)
		if err != nil {
			t.Fatalf("ListMappingsForDevice(%s): %v", dev, err)
		}
		if len(mappings) != 0 {
			t.Errorf("device %s still has %d mappings after deactivation", dev, len(mappings))
		}
	}
}

func TestAutoMapByBadge(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	if err := db.UpsertEmployee(ctx, &models.Employee{
		Ref: "EMP-1", DisplayName: "Ada Lovelace", BadgeID: "B-42", Active: true,
	}); err != nil {
		t.Fatalf("UpsertEmployee: %v", err)
	}

	ref, ok, err := svc.AutoMap(ctx, "dev-1", "B-42")
	if err != nil {
		t.Fatalf("AutoMap: %v", err)
	}
	if !ok || ref != "EMP-1" {
		t.Fatalf("AutoMap = (%q, %v), want (EMP-1, true)", ref, ok)
	}

	mappings, err := db.ListMappingsForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("ListMappingsForDevice: %v", err)
	}
	if len(mappings) != 1 || mappings[0].CardNumber != "B-42" {
		t.Fatalf("mappings = %+v, want one row carrying the badge as card number", mappings)
	}

	// Unknown badge is a clean miss, not an error.
	ref, ok, err = svc.AutoMap(ctx, "dev-1", "B-99")
	if err != nil {
		t.Fatalf("AutoMap unknown badge: %v", err)
	}
	if ok || ref != "" {
		t.Errorf("AutoMap unknown badge = (%q, %v), want miss", ref, ok)
	}
}

func TestNextRefUserID(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	// A numeric device user id is requested as-is.
	id, err := svc.nextRefUserID(ctx, "dev-1", "17")
	if err != nil {
		t.Fatalf("nextRefUserID: %v", err)
	}
	if id != 17 {
		t.Errorf("numeric id = %d, want 17", id)
	}

	// Non-numeric ids allocate one past the highest existing alias.
	five := 5
	if err := db.MapIdentity(ctx, &models.IdentityMapping{
		DeviceID: "dev-1", DeviceUserID: "badge-a", EmployeeRef: "EMP-1", RefUserID: &five,
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}
	id, err = svc.nextRefUserID(ctx, "dev-1", "badge-b")
	if err != nil {
		t.Fatalf("nextRefUserID: %v", err)
	}
	if id != 6 {
		t.Errorf("allocated id = %d, want 6", id)
	}
}
