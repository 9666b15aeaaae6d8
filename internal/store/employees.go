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

// ErrEmployeeNotFound is returned when an employee ref has no row.
var ErrEmployeeNotFound = errors.New("employee not found")

// UpsertEmployee inserts or refreshes a directory record by its stable ref.
func (d *DB) UpsertEmployee(ctx context.Context, emp *models.Employee) error {
	err := d.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ref"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "badge_id", "active", "updated_at",
			}),
		}).
		Create(emp).Error
	if err != nil {
		return fmt.Errorf("upsert employee %s: %w", emp.Ref, err)
	}
	return nil
}

// GetEmployee loads one directory record.
func (d *DB) GetEmployee(ctx context.Context, ref string) (*models.Employee, error) {
	var emp models.Employee
	err := d.orm.WithContext(ctx).First(&emp, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return &emp, nil
}

// GetEmployeeByBadge looks up an active employee by external badge id.
func (d *DB) GetEmployeeByBadge(ctx context.Context, badgeID string) (*models.Employee, error) {
	var emp models.Employee
	err := d.orm.WithContext(ctx).
		Where("badge_id = ? AND active = ?", badgeID, true).
		First(&emp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee by badge: %w", err)
	}
	return &emp, nil
}

// ListEmployees returns the directory, optionally filtered to active records.
func (d *DB) ListEmployees(ctx context.Context, activeOnly bool) ([]models.Employee, error) {
	q := d.orm.WithContext(ctx).Order("ref")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Employee
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return out, nil
}
