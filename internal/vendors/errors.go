// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/clockbridge/internal/models"
)

// Kind classifies adapter failures into the taxonomy the rest of the system
// acts on. The acquisition layer keys retry/abort decisions off Kind alone;
// vendor-specific codes ride along for the operator.
type Kind string

// Failure kinds.
const (
	// KindConfig: missing or invalid connection fields. Surfaced at
	// validation time; the device is never attempted.
	KindConfig Kind = "config"

	// KindAuth: bad credentials. Fatal for the tick, no silent retry; a
	// live device is auto-marked not-live.
	KindAuth Kind = "auth"

	// KindTransient: timeout or unreachable. Logged and retried on the
	// next scheduled tick or live reconnect.
	KindTransient Kind = "transient"

	// KindProtocol: malformed or unexpected vendor response. The tick's
	// batch is abandoned without advancing the cursor.
	KindProtocol Kind = "protocol"

	// KindBusy: the device reported it cannot serve the request right now.
	KindBusy Kind = "busy"
)

// Error is a classified adapter failure. Code carries the vendor-native
// error code verbatim when the protocol has one (COSEC Response-Code,
// Anviz header code, HTTP status) so operators can tell "wrong IP" from
// "wrong credentials" from "protocol mismatch".
type Error struct {
	Kind   Kind
	Vendor models.VendorKind
	Code   string
	Msg    string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Vendor, e.Kind)
	if e.Code != "" {
		s += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified error.
func newError(kind Kind, vendor models.VendorKind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Vendor: vendor, Code: code, Msg: msg, Err: err}
}

func authErr(vendor models.VendorKind, code, msg string) *Error {
	return newError(KindAuth, vendor, code, msg, nil)
}

func protocolErr(vendor models.VendorKind, msg string, err error) *Error {
	return newError(KindProtocol, vendor, "", msg, err)
}

func busyErr(vendor models.VendorKind, code, msg string) *Error {
	return newError(KindBusy, vendor, code, msg, nil)
}

func configErr(vendor models.VendorKind, msg string) *Error {
	return newError(KindConfig, vendor, "", msg, nil)
}

// classifyNetErr wraps a transport-level failure as transient: timeouts,
// refused connections, DNS failures, and canceled requests all warrant a
// retry on the next tick rather than abandoning the device. Faults the
// remote end answers with are classified by the adapter, not here.
func classifyNetErr(vendor models.VendorKind, op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return newError(KindTransient, vendor, "", op+" canceled", err)
	}
	return newError(KindTransient, vendor, "", op, err)
}

// KindOf extracts the failure kind from an error chain, defaulting to
// protocol for unclassified errors.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindProtocol
}

// IsAuth reports whether the error chain contains an auth failure.
func IsAuth(err error) bool { return hasKind(err, KindAuth) }

// IsTransient reports whether the error chain contains a transient network failure.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

// IsProtocol reports whether the error chain contains a protocol failure.
func IsProtocol(err error) bool { return hasKind(err, KindProtocol) }

// IsBusy reports whether the error chain contains a device-busy failure.
func IsBusy(err error) bool { return hasKind(err, KindBusy) }

// IsConfig reports whether the error chain contains a config failure.
func IsConfig(err error) bool { return hasKind(err, KindConfig) }

func hasKind(err error, kind Kind) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == kind
}

// asVendorError extracts the classified error from a chain.
func asVendorError(err error, ve **Error) bool {
	return errors.As(err, ve)
}
