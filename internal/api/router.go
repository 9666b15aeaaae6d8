// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/clockbridge/internal/middleware"
)

// NewRouter assembles the control surface routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.Metrics)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/live", h.Health)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", h.ListDevices)
			r.Post("/", h.AddDevice)
			r.Post("/fetch", h.BulkFetchNow)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDevice)
				r.Delete("/", h.DeleteDevice)
				r.Post("/test", h.TestConnection)
				r.Post("/fetch", h.FetchNow)
				r.Put("/live", h.SetLive)
				r.Put("/schedule", h.SetSchedule)

				r.Get("/mappings", h.ListMappings)
				r.Post("/mappings", h.MapIdentity)
				r.Delete("/mappings/{deviceUserID}", h.UnmapIdentity)
			})
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Put("/{ref}", h.UpsertEmployee)
			r.Post("/{ref}/provision", h.ProvisionEmployee)
		})

		r.Get("/activities", h.ListActivities)
		r.Get("/ws", h.WebSocket)
	})

	return r
}
