// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/cache"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/notify"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// Live worker status values published on device_status notifications.
const (
	StatusStarting     = "starting"
	StatusConnected    = "connected"
	StatusCapturing    = "capturing"
	StatusReconnecting = "reconnecting"
	StatusAuthFailed   = "auth_failed"
	StatusStopped      = "stopped"
)

// LiveConfig tunes the live worker loop.
type LiveConfig struct {
	// PollInterval paces the fetch loop on vendors without a push channel.
	PollInterval time.Duration

	// ReconnectMin and ReconnectMax bound the exponential backoff between
	// dropped sessions.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// LiveWorker holds one device's live capture session open. It is a suture
// service: a dropped connection reconnects with backoff, a failed
// authentication deactivates live mode and removes the service.
//
// Vendors with a push channel stream events over the open session; vendors
// without one run a rate-paced fetch loop against the same cursor
// discipline as scheduled polling.
type LiveWorker struct {
	deviceID   string
	db         *store.DB
	cursors    *cursor.BadgerStore
	normalizer *attendance.Normalizer
	reconciler *attendance.Reconciler
	sink       notify.Sink
	cfg        LiveConfig

	// seen absorbs re-pushed events when a device misses an ack.
	seen *cache.LRU
}

// NewLiveWorker wires a live worker for one device.
func NewLiveWorker(deviceID string, db *store.DB, cursors *cursor.BadgerStore, normalizer *attendance.Normalizer, reconciler *attendance.Reconciler, sink notify.Sink, cfg LiveConfig) *LiveWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 2 * time.Minute
	}
	return &LiveWorker{
		deviceID:   deviceID,
		db:         db,
		cursors:    cursors,
		normalizer: normalizer,
		reconciler: reconciler,
		sink:       sink,
		cfg:        cfg,
		seen:       cache.NewLRU(4096, 10*time.Minute),
	}
}

func (w *LiveWorker) String() string { return "live-worker-" + w.deviceID }

// Serve runs the capture loop until the context is canceled or the device
// stops being a live device.
func (w *LiveWorker) Serve(ctx context.Context) error {
	metrics.LiveWorkers.Inc()
	defer metrics.LiveWorkers.Dec()

	w.setStatus(StatusStarting)
	backoff := w.cfg.ReconnectMin

	for {
		if err := ctx.Err(); err != nil {
			w.setStatus(StatusStopped)
			return err
		}

		profile, err := w.db.GetDevice(ctx, w.deviceID)
		if errors.Is(err, store.ErrDeviceNotFound) {
			w.setStatus(StatusStopped)
			return suture.ErrDoNotRestart
		}
		if err != nil {
			if !w.sleep(ctx, backoff) {
				w.setStatus(StatusStopped)
				return ctx.Err()
			}
			backoff = w.nextBackoff(backoff)
			continue
		}
		if !profile.IsLive || !profile.Active {
			w.setStatus(StatusStopped)
			return suture.ErrDoNotRestart
		}

		adapter, err := vendors.New(profile)
		if err != nil {
			return w.deactivate(ctx, err)
		}

		if _, err := adapter.Authenticate(ctx); err != nil {
			metrics.FetchErrors.WithLabelValues(string(profile.VendorKind), string(vendors.KindOf(err))).Inc()
			if vendors.IsAuth(err) || vendors.IsConfig(err) {
				_ = adapter.Disconnect()
				return w.deactivate(ctx, err)
			}
			_ = adapter.Disconnect()
			w.setStatus(StatusReconnecting)
			if !w.sleep(ctx, backoff) {
				w.setStatus(StatusStopped)
				return ctx.Err()
			}
			backoff = w.nextBackoff(backoff)
			continue
		}

		w.setStatus(StatusConnected)
		backoff = w.cfg.ReconnectMin

		if capturer, ok := adapter.(vendors.LiveCapturer); ok {
			w.setStatus(StatusCapturing)
			err = capturer.Capture(ctx, w.eventHandler(ctx, profile))
		} else {
			w.setStatus(StatusCapturing)
			err = w.pacedPoll(ctx, adapter, profile)
		}
		_ = adapter.Disconnect()

		if ctx.Err() != nil {
			w.setStatus(StatusStopped)
			return ctx.Err()
		}

		logging.Warn().Err(err).Str("device", w.deviceID).Msg("live session dropped, reconnecting")
		metrics.LiveReconnects.WithLabelValues(string(profile.VendorKind)).Inc()
		w.setStatus(StatusReconnecting)
		if !w.sleep(ctx, backoff) {
			w.setStatus(StatusStopped)
			return ctx.Err()
		}
		backoff = w.nextBackoff(backoff)
	}
}

// deactivate turns live mode off after a credential or configuration
// failure. Retrying would only hammer the device with bad credentials.
func (w *LiveWorker) deactivate(ctx context.Context, cause error) error {
	logging.Error().Err(cause).Str("device", w.deviceID).Msg("live capture disabled after auth failure")
	w.setStatus(StatusAuthFailed)
	if err := w.db.SetAcquisitionMode(ctx, w.deviceID, false, false); err != nil {
		logging.Error().Err(err).Str("device", w.deviceID).Msg("failed to clear live flag")
	}
	return suture.ErrDoNotRestart
}

// eventHandler processes one pushed event through normalize, reconcile,
// and cursor save. Dispatch runs on a context detached from cancellation:
// a worker stopping mid-receive finishes the in-flight event's ledger calls
// before the capture loop reports stopped, instead of dropping a punch the
// device already considers delivered.
func (w *LiveWorker) eventHandler(ctx context.Context, profile *models.DeviceProfile) func(models.RawEvent) error {
	dispatchCtx := context.WithoutCancel(ctx)
	return func(ev models.RawEvent) error {
		metrics.LiveEventsReceived.WithLabelValues(string(profile.VendorKind)).Inc()

		if w.seen.Seen(ev.DeviceUserID + "|" + ev.Instant.UTC().Format(time.RFC3339)) {
			return nil
		}

		punch, ok, err := w.normalizer.Normalize(dispatchCtx, profile, ev)
		if err != nil {
			return err
		}
		if ok {
			w.reconciler.Reconcile(dispatchCtx, []models.NormalizedPunch{punch})
		}

		if err := w.cursors.Save(profile.ID, models.NewTimeCursor(ev.Instant)); err != nil {
			logging.Warn().Err(err).Str("device", profile.ID).Msg("failed to save live cursor")
		}
		if err := w.db.TouchLastFetch(dispatchCtx, profile.ID, ev.Instant); err != nil {
			logging.Warn().Err(err).Str("device", profile.ID).Msg("failed to update last fetch instant")
		}
		return nil
	}
}

// pacedPoll emulates live capture for vendors without a push channel by
// polling at a short fixed pace against the normal cursor discipline.
func (w *LiveWorker) pacedPoll(ctx context.Context, adapter vendors.Adapter, profile *models.DeviceProfile) error {
	limiter := rate.NewLimiter(rate.Every(w.cfg.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		cur, err := w.cursors.LoadOrInit(profile.ID, profile.VendorKind)
		if err != nil {
			return err
		}
		events, next, err := adapter.FetchEvents(ctx, cur)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			continue
		}

		metrics.PunchesFetched.WithLabelValues(string(profile.VendorKind)).Add(float64(len(events)))
		for range events {
			metrics.LiveEventsReceived.WithLabelValues(string(profile.VendorKind)).Inc()
		}

		punches, err := w.normalizer.NormalizeBatch(ctx, profile, events)
		if err != nil {
			return err
		}
		w.reconciler.Reconcile(ctx, punches)

		// Cursor write comes after the ledger dispatch: a crash in between
		// redelivers the batch, and the ledger absorbs the replay.
		if err := w.cursors.Save(profile.ID, next); err != nil {
			return err
		}
		if last := next.LastFetch(); !last.IsZero() {
			if err := w.db.TouchLastFetch(ctx, profile.ID, last); err != nil {
				logging.Warn().Err(err).Str("device", profile.ID).Msg("failed to update last fetch instant")
			}
		}
	}
}

func (w *LiveWorker) setStatus(status string) {
	if w.sink != nil {
		w.sink.DeviceStatus(w.deviceID, status)
	}
}

func (w *LiveWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *LiveWorker) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > w.cfg.ReconnectMax {
		next = w.cfg.ReconnectMax
	}
	return next
}
