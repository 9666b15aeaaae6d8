// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package api exposes the HTTP control surface: device management, manual
// fetches, acquisition mode switches, identity mapping, the employee
// directory, and the live websocket feed.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/clockbridge/internal/acquisition"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/directory"
	"github.com/tomtom215/clockbridge/internal/ledger"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/notify"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/validation"
)

// Handler carries the dependencies of every endpoint.
type Handler struct {
	db        *store.DB
	cursors   *cursor.BadgerStore
	runner    *acquisition.PollRunner
	devices   *acquisition.DeviceSupervisor
	directory *directory.Service
	ledger    *ledger.Gorm
	hub       *notify.Hub
	upgrader  websocket.Upgrader
}

// NewHandler wires the handler set.
func NewHandler(db *store.DB, cursors *cursor.BadgerStore, runner *acquisition.PollRunner, devices *acquisition.DeviceSupervisor, dir *directory.Service, led *ledger.Gorm, hub *notify.Hub) *Handler {
	return &Handler{
		db:        db,
		cursors:   cursors,
		runner:    runner,
		devices:   devices,
		directory: dir,
		ledger:    led,
		hub:       hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HealthReady reports readiness: the device store must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.db.ListDevices(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListDevices returns all active device profiles.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.db.ListDevices(r.Context())
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

// deviceRequest widens the profile with the secret fields that are
// write-only on the wire. Responses never echo them back.
type deviceRequest struct {
	models.DeviceProfile
	Password  string `json:"password,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`
}

// AddDevice registers a device profile and starts its acquisition service
// when a mode is requested.
func (h *Handler) AddDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	profile := req.DeviceProfile
	profile.Password = req.Password
	profile.APIKey = req.APIKey
	profile.APISecret = req.APISecret
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.Direction == "" {
		profile.Direction = models.DirectionSystemDecided
	}
	profile.Active = true

	if err := validation.ValidateDeviceProfile(&profile); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "DEVICE_CONFIG_ERROR", err.Error())
		return
	}
	if err := h.db.CreateDevice(r.Context(), &profile); err != nil {
		respondVendorError(w, err)
		return
	}

	switch {
	case profile.IsLive:
		if err := h.devices.SetLive(r.Context(), profile.ID, true); err != nil {
			respondVendorError(w, err)
			return
		}
	case profile.IsScheduled:
		if err := h.devices.SetSchedule(r.Context(), profile.ID, true, profile.PollInterval()); err != nil {
			respondVendorError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusCreated, &profile)
}

// GetDevice returns one device profile.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	profile, err := h.db.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// DeleteDevice stops acquisition, removes the profile with its mappings,
// and clears the cursor.
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.devices.StopDevice(id)
	if err := h.db.DeleteDevice(r.Context(), id); err != nil {
		respondVendorError(w, err)
		return
	}
	if err := h.cursors.Delete(id); err != nil {
		logging.Warn().Err(err).Str("device", id).Msg("failed to delete cursor")
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// TestConnection authenticates against the device without fetching.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	profile, err := h.db.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondVendorError(w, err)
		return
	}
	if err := h.runner.TestConnection(r.Context(), profile); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"device_id": profile.ID, "connection": "ok"})
}

// FetchNow runs one poll cycle for the device immediately.
func (h *Handler) FetchNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunPoll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// BulkFetchNow polls every active device. Fetches run concurrently; the
// combined event set is reconciled as one chronologically merged batch so
// cross-device direction resolution sees wall-clock order. Per-device
// failures are reported inline, never abort the rest.
func (h *Handler) BulkFetchNow(w http.ResponseWriter, r *http.Request) {
	devices, err := h.db.ListDevices(r.Context())
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.runner.RunBulkPoll(r.Context(), devices))
}

type modeRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds,omitempty"`
}

// SetLive toggles live capture for the device.
func (h *Handler) SetLive(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.devices.SetLive(r.Context(), id, req.Enabled); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"device_id": id, "live": req.Enabled})
}

// SetSchedule toggles scheduled polling for the device.
func (h *Handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	interval := time.Duration(req.IntervalSeconds) * time.Second
	if err := h.devices.SetSchedule(r.Context(), id, req.Enabled, interval); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"device_id": id, "scheduled": req.Enabled})
}

// ListMappings returns a device's identity mappings.
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.db.ListMappingsForDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, mappings)
}

type mapIdentityRequest struct {
	DeviceUserID string `json:"device_user_id" validate:"required"`
	EmployeeRef  string `json:"employee_ref" validate:"required"`
	CardNumber   string `json:"card_number,omitempty"`
}

// MapIdentity binds a device-local user id to an employee.
func (h *Handler) MapIdentity(w http.ResponseWriter, r *http.Request) {
	var req mapIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.db.GetDevice(r.Context(), id); err != nil {
		respondVendorError(w, err)
		return
	}
	mapping := &models.IdentityMapping{
		DeviceID:     id,
		DeviceUserID: req.DeviceUserID,
		EmployeeRef:  req.EmployeeRef,
		CardNumber:   req.CardNumber,
	}
	if err := h.db.MapIdentity(r.Context(), mapping); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, mapping)
}

// UnmapIdentity removes a device user's mapping.
func (h *Handler) UnmapIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deviceUserID := chi.URLParam(r, "deviceUserID")
	if err := h.db.UnmapIdentity(r.Context(), id, deviceUserID); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"device_id": id, "device_user_id": deviceUserID})
}

// ListEmployees returns the directory.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	employees, err := h.db.ListEmployees(r.Context(), activeOnly)
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, employees)
}

// UpsertEmployee creates or refreshes one directory record.
func (h *Handler) UpsertEmployee(w http.ResponseWriter, r *http.Request) {
	var emp models.Employee
	if err := decodeJSON(r, &emp); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	emp.Ref = chi.URLParam(r, "ref")
	if emp.Ref == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "employee ref is required")
		return
	}
	if err := h.directory.SyncEmployee(r.Context(), &emp); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &emp)
}

type provisionRequest struct {
	DeviceID     string `json:"device_id" validate:"required"`
	DeviceUserID string `json:"device_user_id" validate:"required"`
}

// ProvisionEmployee pushes an employee onto a provisioning-capable device.
func (h *Handler) ProvisionEmployee(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		return
	}

	profile, err := h.db.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		respondVendorError(w, err)
		return
	}
	ref := chi.URLParam(r, "ref")
	if err := h.directory.ProvisionToDevice(r.Context(), profile, ref, req.DeviceUserID); err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"employee_ref":   ref,
		"device_id":      req.DeviceID,
		"device_user_id": req.DeviceUserID,
	})
}

// ListActivities returns ledger activities filtered by employee and date.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.ledger.ListActivities(r.Context(),
		r.URL.Query().Get("employee"),
		r.URL.Query().Get("date"))
	if err != nil {
		respondVendorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

// WebSocket upgrades the connection and attaches it to the notify hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := notify.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
