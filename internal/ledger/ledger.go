// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package ledger records attendance activities: one row per clock-in with
// its matching clock-out. It is the built-in implementation of the
// attendance.Ledger boundary and owns its own schema.
//
// Idempotence contract: replaying a ClockIn or ClockOut with an instant the
// ledger has already recorded for that employee is a no-op. Acquisition is
// at-least-once, so every punch may arrive more than once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/store"
)

// Activity is one attendance interval. OutTime and OutInstant are nil while
// the interval is still open.
type Activity struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EmployeeRef string    `gorm:"size:64;index;uniqueIndex:idx_employee_in" json:"employee_ref"`
	CivilDate   string    `gorm:"size:10;index" json:"civil_date"`
	InTime      string    `gorm:"size:8" json:"in_time"`
	InInstant   time.Time `gorm:"uniqueIndex:idx_employee_in" json:"in_instant"`

	OutTime    *string    `gorm:"size:8" json:"out_time,omitempty"`
	OutInstant *time.Time `gorm:"index" json:"out_instant,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gorm implements attendance.Ledger over the shared sqlite database.
type Gorm struct {
	orm *gorm.DB
}

// New migrates the activity table and returns the ledger.
func New(db *store.DB) (*Gorm, error) {
	orm := db.ORM()
	if err := orm.AutoMigrate(&Activity{}); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &Gorm{orm: orm}, nil
}

// ClockIn opens a new activity. A replay of an already-recorded instant is
// a no-op.
func (g *Gorm) ClockIn(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error {
	return g.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := hasInInstant(tx, employeeRef, instant)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		act := Activity{
			EmployeeRef: employeeRef,
			CivilDate:   civilDate,
			InTime:      civilTime,
			InInstant:   instant,
		}
		if err := tx.Create(&act).Error; err != nil {
			return fmt.Errorf("record clock in: %w", err)
		}
		return nil
	})
}

// ClockOut closes the employee's most recent open activity at or before the
// given instant. A replay is a no-op. A clock-out with no open activity is
// recorded as a zero-length activity so the punch is not lost.
func (g *Gorm) ClockOut(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error {
	return g.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		err := tx.Model(&Activity{}).
			Where("employee_ref = ? AND out_instant = ?", employeeRef, instant).
			Count(&seen).Error
		if err != nil {
			return fmt.Errorf("check out instant: %w", err)
		}
		if seen > 0 {
			return nil
		}

		var open Activity
		err = tx.Where("employee_ref = ? AND out_instant IS NULL AND in_instant <= ?", employeeRef, instant).
			Order("in_instant DESC").
			First(&open).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return g.recordOrphanOut(tx, employeeRef, civilDate, civilTime, instant)
		}
		if err != nil {
			return fmt.Errorf("find open activity: %w", err)
		}

		err = tx.Model(&open).Updates(map[string]interface{}{
			"out_time":    civilTime,
			"out_instant": instant,
		}).Error
		if err != nil {
			return fmt.Errorf("record clock out: %w", err)
		}
		return nil
	})
}

// recordOrphanOut keeps an out-punch that matched no open activity, as a
// closed zero-length interval.
func (g *Gorm) recordOrphanOut(tx *gorm.DB, employeeRef, civilDate, civilTime string, instant time.Time) error {
	seen, err := hasInInstant(tx, employeeRef, instant)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	logging.Warn().
		Str("employee", employeeRef).
		Time("instant", instant).
		Msg("clock out without open activity, recording zero-length interval")
	act := Activity{
		EmployeeRef: employeeRef,
		CivilDate:   civilDate,
		InTime:      civilTime,
		InInstant:   instant,
		OutTime:     &civilTime,
		OutInstant:  &instant,
	}
	if err := tx.Create(&act).Error; err != nil {
		return fmt.Errorf("record orphan clock out: %w", err)
	}
	return nil
}

// OpenActivity reports whether the employee has an open activity starting
// at or before asOf.
func (g *Gorm) OpenActivity(ctx context.Context, employeeRef string, asOf time.Time) (bool, error) {
	var n int64
	err := g.orm.WithContext(ctx).Model(&Activity{}).
		Where("employee_ref = ? AND out_instant IS NULL AND in_instant <= ?", employeeRef, asOf).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count open activities: %w", err)
	}
	return n > 0, nil
}

// LastDirection derives the employee's most recent punch direction from
// their latest activity: open means the last punch was an IN, closed means
// an OUT.
func (g *Gorm) LastDirection(ctx context.Context, employeeRef string) (models.PunchDirection, bool, error) {
	var last Activity
	err := g.orm.WithContext(ctx).
		Where("employee_ref = ?", employeeRef).
		Order("in_instant DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last activity: %w", err)
	}
	if last.OutInstant != nil {
		return models.PunchOut, true, nil
	}
	return models.PunchIn, true, nil
}

// ListActivities returns an employee's activities on a civil date, oldest
// first. Used by the read-side API.
func (g *Gorm) ListActivities(ctx context.Context, employeeRef, civilDate string) ([]Activity, error) {
	var out []Activity
	q := g.orm.WithContext(ctx).Order("in_instant")
	if employeeRef != "" {
		q = q.Where("employee_ref = ?", employeeRef)
	}
	if civilDate != "" {
		q = q.Where("civil_date = ?", civilDate)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return out, nil
}

func hasInInstant(tx *gorm.DB, employeeRef string, instant time.Time) (bool, error) {
	var n int64
	err := tx.Model(&Activity{}).
		Where("employee_ref = ? AND in_instant = ?", employeeRef, instant).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check in instant: %w", err)
	}
	return n > 0, nil
}
