// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package models

import (
	"fmt"
	"time"
)

// CursorKind discriminates the vendor-specific cursor shape.
type CursorKind string

// Cursor shapes.
const (
	CursorTime     CursorKind = "time"     // zk, dahua, etimeoffice
	CursorSequence CursorKind = "sequence" // cosec
	CursorToken    CursorKind = "token"    // anviz: time cursor plus cached API token
)

// CursorKindFor returns the cursor shape a vendor uses.
func CursorKindFor(kind VendorKind) CursorKind {
	switch kind {
	case VendorCOSEC:
		return CursorSequence
	case VendorAnviz:
		return CursorToken
	default:
		return CursorTime
	}
}

// VendorCursor is the per-device bookmark of the last consumed position, as a
// tagged union keyed by Kind. Exactly one of the shape fields is non-nil.
//
// The cursor is saved only after a fetched batch has been reconciled into
// the ledger, and always reflects the position of the last event in that
// batch. A crash anywhere between fetch and save re-delivers the batch next
// tick; the ledger tolerates the duplicate calls.
type VendorCursor struct {
	Kind     CursorKind      `json:"kind"`
	Time     *TimeCursor     `json:"time,omitempty"`
	Sequence *SequenceCursor `json:"sequence,omitempty"`
	Token    *TokenCursor    `json:"token,omitempty"`
}

// TimeCursor bookmarks by event timestamp: "new since" means strictly after
// LastFetch.
type TimeCursor struct {
	LastFetch time.Time `json:"last_fetch"`
}

// SequenceCursor bookmarks by the COSEC (rollover, sequence) pair. "New
// since" means a strictly greater sequence within the same rollover epoch;
// rollover increments only when the device's sequence counter wraps.
type SequenceCursor struct {
	RollOver int `json:"roll_over"`
	Sequence int `json:"sequence"`
}

// TokenCursor is the Anviz bookmark: the generic time cursor plus the cached
// API token. Token refresh is transparent and independent of attendance
// cursoring.
type TokenCursor struct {
	LastFetch   time.Time `json:"last_fetch"`
	APIToken    string    `json:"api_token"`
	TokenExpiry time.Time `json:"token_expiry"`
}

// NewTimeCursor builds a time-shaped cursor.
func NewTimeCursor(lastFetch time.Time) VendorCursor {
	return VendorCursor{Kind: CursorTime, Time: &TimeCursor{LastFetch: lastFetch}}
}

// NewSequenceCursor builds a sequence-shaped cursor.
func NewSequenceCursor(rollOver, sequence int) VendorCursor {
	return VendorCursor{
		Kind:     CursorSequence,
		Sequence: &SequenceCursor{RollOver: rollOver, Sequence: sequence},
	}
}

// NewTokenCursor builds a token-shaped cursor.
func NewTokenCursor(lastFetch time.Time, token string, expiry time.Time) VendorCursor {
	return VendorCursor{
		Kind:  CursorToken,
		Token: &TokenCursor{LastFetch: lastFetch, APIToken: token, TokenExpiry: expiry},
	}
}

// InitialCursor returns the cursor a device starts from when none is stored.
// COSEC devices start at rollover 0, sequence 1; time-cursor vendors start
// from the zero time (full history on first fetch, filtered by the caller).
func InitialCursor(kind VendorKind) VendorCursor {
	switch CursorKindFor(kind) {
	case CursorSequence:
		return NewSequenceCursor(0, 1)
	case CursorToken:
		return NewTokenCursor(time.Time{}, "", time.Time{})
	default:
		return NewTimeCursor(time.Time{})
	}
}

// Validate checks that exactly the field matching Kind is populated.
func (c *VendorCursor) Validate() error {
	switch c.Kind {
	case CursorTime:
		if c.Time == nil || c.Sequence != nil || c.Token != nil {
			return fmt.Errorf("cursor kind %q: wrong shape", c.Kind)
		}
	case CursorSequence:
		if c.Sequence == nil || c.Time != nil || c.Token != nil {
			return fmt.Errorf("cursor kind %q: wrong shape", c.Kind)
		}
	case CursorToken:
		if c.Token == nil || c.Time != nil || c.Sequence != nil {
			return fmt.Errorf("cursor kind %q: wrong shape", c.Kind)
		}
	default:
		return fmt.Errorf("unknown cursor kind %q", c.Kind)
	}
	return nil
}

// Equal reports whether two cursors bookmark the same position and carry
// the same token state. The poll runner uses it to persist cursors whose
// only change is a refreshed token on an otherwise empty fetch.
func (c VendorCursor) Equal(o VendorCursor) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case CursorTime:
		return c.Time != nil && o.Time != nil &&
			c.Time.LastFetch.Equal(o.Time.LastFetch)
	case CursorSequence:
		return c.Sequence != nil && o.Sequence != nil &&
			*c.Sequence == *o.Sequence
	case CursorToken:
		return c.Token != nil && o.Token != nil &&
			c.Token.LastFetch.Equal(o.Token.LastFetch) &&
			c.Token.APIToken == o.Token.APIToken &&
			c.Token.TokenExpiry.Equal(o.Token.TokenExpiry)
	}
	return false
}

// LastFetch returns the timestamp component of the cursor, or the zero time
// for sequence cursors.
func (c *VendorCursor) LastFetch() time.Time {
	switch c.Kind {
	case CursorTime:
		if c.Time != nil {
			return c.Time.LastFetch
		}
	case CursorToken:
		if c.Token != nil {
			return c.Token.LastFetch
		}
	}
	return time.Time{}
}
