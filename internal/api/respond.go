// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/clockbridge/internal/acquisition"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries a machine-readable code alongside the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&APIResponse{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(&APIResponse{
		Status:    "error",
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondVendorError maps the error taxonomy to HTTP statuses: bad device
// configuration is the caller's fault, credential failures are 401, a busy
// device is 503, timeouts are 504, and protocol violations are 502.
func respondVendorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDeviceNotFound),
		errors.Is(err, store.ErrMappingNotFound),
		errors.Is(err, store.ErrEmployeeNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, acquisition.ErrPollInProgress):
		respondError(w, http.StatusConflict, "POLL_IN_PROGRESS", err.Error())
	case vendors.IsConfig(err):
		respondError(w, http.StatusUnprocessableEntity, "DEVICE_CONFIG_ERROR", err.Error())
	case vendors.IsAuth(err):
		respondError(w, http.StatusUnauthorized, "DEVICE_AUTH_ERROR", err.Error())
	case vendors.IsBusy(err):
		respondError(w, http.StatusServiceUnavailable, "DEVICE_BUSY", err.Error())
	case vendors.IsTransient(err):
		respondError(w, http.StatusGatewayTimeout, "DEVICE_UNREACHABLE", err.Error())
	case vendors.IsProtocol(err):
		respondError(w, http.StatusBadGateway, "DEVICE_PROTOCOL_ERROR", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
