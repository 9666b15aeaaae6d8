// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package store persists device profiles, identity mappings, employees, and
// attendance activities in an embedded sqlite database via GORM.
//
// Cursor state lives in the separate Badger-backed cursor package; this
// package owns the row-oriented configuration and ledger tables.
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tomtom215/clockbridge/internal/models"
)

// DB wraps the GORM handle and the typed accessors built on it.
type DB struct {
	orm *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema.
func Open(path string) (*DB, error) {
	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := orm.AutoMigrate(
		&models.DeviceProfile{},
		&models.IdentityMapping{},
		&models.Employee{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &DB{orm: orm}, nil
}

// ORM exposes the underlying handle for the ledger implementation.
func (d *DB) ORM() *gorm.DB { return d.orm }

// Close closes the underlying sql connection.
func (d *DB) Close() error {
	sqlDB, err := d.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
