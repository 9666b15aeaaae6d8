// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package cursor persists the per-device "last consumed position" in its
// vendor-appropriate shape, backed by BadgerDB.
//
// The store is written only after a batch has been fetched and handed to
// the reconciler, always with the position of the last event in that batch.
// Losing a write therefore re-delivers punches rather than dropping them.
package cursor

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/clockbridge/internal/models"
)

// cursorKeyPrefix namespaces cursor entries inside the shared Badger DB.
const cursorKeyPrefix = "cursor:"

// ErrNotFound is returned by Load when a device has no stored cursor yet.
var ErrNotFound = errors.New("cursor not found")

// Store is the CursorStore contract.
type Store interface {
	// Load retrieves the device's cursor, or ErrNotFound.
	Load(deviceID string) (models.VendorCursor, error)

	// Save persists the cursor for the device.
	Save(deviceID string, cursor models.VendorCursor) error

	// Delete removes the device's cursor (device deletion cascade).
	Delete(deviceID string) error
}

// BadgerStore implements Store over a BadgerDB handle shared with the
// process.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a cursor store over an open Badger DB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Open opens a Badger DB at dir with logging disabled (zerolog owns output).
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cursor store %s: %w", dir, err)
	}
	return db, nil
}

// Load retrieves and validates the device's cursor.
func (s *BadgerStore) Load(deviceID string) (models.VendorCursor, error) {
	var cur models.VendorCursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cur)
		})
	})
	if err != nil {
		return models.VendorCursor{}, err
	}
	if err := cur.Validate(); err != nil {
		return models.VendorCursor{}, fmt.Errorf("stored cursor for %s: %w", deviceID, err)
	}
	return cur, nil
}

// LoadOrInit returns the stored cursor or the vendor's initial cursor when
// none exists.
func (s *BadgerStore) LoadOrInit(deviceID string, kind models.VendorKind) (models.VendorCursor, error) {
	cur, err := s.Load(deviceID)
	if errors.Is(err, ErrNotFound) {
		return models.InitialCursor(kind), nil
	}
	return cur, err
}

// Save persists the cursor after validating its shape.
func (s *BadgerStore) Save(deviceID string, cursor models.VendorCursor) error {
	if err := cursor.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(deviceID), data)
	})
}

// Delete removes the device's cursor entry.
func (s *BadgerStore) Delete(deviceID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func key(deviceID string) []byte {
	return []byte(cursorKeyPrefix + deviceID)
}
