// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package acquisition drives the two ways punches enter the system: the
// poll runner executes one cursor-disciplined fetch cycle, the live worker
// holds a capture session open, and the device supervisor keeps exactly one
// of them running per device under a suture tree.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/metrics"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/notify"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/vendors"
)

// ErrPollInProgress is returned when a poll fires while the device's
// previous poll is still running. The fire is skipped, never queued.
var ErrPollInProgress = errors.New("poll already in progress for device")

// PollResult summarizes one completed poll cycle.
type PollResult struct {
	DeviceID  string        `json:"device_id"`
	Fetched   int           `json:"fetched"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Took      time.Duration `json:"-"`
}

// PollRunner executes the fetch cycle for one device: load cursor, fetch
// through the breaker, normalize, reconcile, persist the advanced cursor.
//
// The cursor is written only after the batch has been handed to the ledger.
// A crash anywhere before the write redelivers the whole batch next cycle,
// and the ledger's idempotent replay absorbs the duplicates: delivery is
// at-least-once, never at-most-once.
type PollRunner struct {
	db         *store.DB
	cursors    *cursor.BadgerStore
	normalizer *attendance.Normalizer
	reconciler *attendance.Reconciler
	breakers   *breakerRegistry
	sink       notify.Sink

	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	busy sync.Mutex
}

// NewPollRunner wires the poll runner.
func NewPollRunner(db *store.DB, cursors *cursor.BadgerStore, normalizer *attendance.Normalizer, reconciler *attendance.Reconciler, breakerCfg BreakerConfig, sink notify.Sink) *PollRunner {
	return &PollRunner{
		db:         db,
		cursors:    cursors,
		normalizer: normalizer,
		reconciler: reconciler,
		breakers:   newBreakerRegistry(breakerCfg),
		sink:       sink,
		locks:      make(map[string]*deviceLock),
	}
}

// RunPoll executes one poll for the device, skipping if one is in flight.
func (p *PollRunner) RunPoll(ctx context.Context, deviceID string) (PollResult, error) {
	lock := p.lockFor(deviceID)
	if !lock.busy.TryLock() {
		return PollResult{}, ErrPollInProgress
	}
	defer lock.busy.Unlock()

	profile, err := p.db.GetDevice(ctx, deviceID)
	if err != nil {
		return PollResult{}, err
	}
	return p.poll(ctx, profile)
}

// poll runs the cycle against an already-loaded profile. The device lock
// must be held.
func (p *PollRunner) poll(ctx context.Context, profile *models.DeviceProfile) (PollResult, error) {
	st, err := p.stage(ctx, profile)
	if err != nil {
		return PollResult{}, err
	}

	rec := p.reconciler.Reconcile(ctx, st.punches)
	return p.commit(ctx, st, rec)
}

// stagedFetch is one device's fetch outcome, held until the batch has been
// reconciled and the cursor may advance.
type stagedFetch struct {
	profile *models.DeviceProfile
	prev    models.VendorCursor
	next    models.VendorCursor
	fetched int
	punches []models.NormalizedPunch
	started time.Time
}

// stage authenticates, fetches through the breaker, and normalizes. The
// cursor is not written here: that happens in commit, after reconciliation.
func (p *PollRunner) stage(ctx context.Context, profile *models.DeviceProfile) (*stagedFetch, error) {
	started := time.Now()
	vendor := string(profile.VendorKind)

	adapter, err := vendors.New(profile)
	if err != nil {
		return nil, err
	}
	defer func() { _ = adapter.Disconnect() }()

	if _, err := adapter.Authenticate(ctx); err != nil {
		metrics.FetchErrors.WithLabelValues(vendor, string(vendors.KindOf(err))).Inc()
		return nil, fmt.Errorf("authenticate %s: %w", profile.ID, err)
	}

	cur, err := p.cursors.LoadOrInit(profile.ID, profile.VendorKind)
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", profile.ID, err)
	}

	events, next, err := p.breakers.fetch(ctx, profile.ID, adapter, cur)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(vendor, string(vendors.KindOf(err))).Inc()
		return nil, fmt.Errorf("fetch %s: %w", profile.ID, err)
	}
	metrics.PunchesFetched.WithLabelValues(vendor).Add(float64(len(events)))

	punches, err := p.normalizer.NormalizeBatch(ctx, profile, events)
	if err != nil {
		// The cursor stays put so the batch is refetched next cycle.
		return nil, fmt.Errorf("normalize %s: %w", profile.ID, err)
	}

	return &stagedFetch{
		profile: profile,
		prev:    cur,
		next:    next,
		fetched: len(events),
		punches: punches,
		started: started,
	}, nil
}

// commit persists the advanced cursor and reports the cycle's outcome. A
// cursor that only changed its token state (empty fetch with a refreshed
// token) is persisted too, so the token is not re-issued every tick.
func (p *PollRunner) commit(ctx context.Context, st *stagedFetch, rec attendance.Result) (PollResult, error) {
	if st.fetched > 0 || !st.next.Equal(st.prev) {
		if err := p.cursors.Save(st.profile.ID, st.next); err != nil {
			return PollResult{}, fmt.Errorf("save cursor %s: %w", st.profile.ID, err)
		}
		if last := st.next.LastFetch(); !last.IsZero() {
			if err := p.db.TouchLastFetch(ctx, st.profile.ID, last); err != nil {
				logging.Warn().Err(err).Str("device", st.profile.ID).Msg("failed to update last fetch instant")
			}
		}
	}

	took := time.Since(st.started)
	metrics.ObservePoll(string(st.profile.VendorKind), took)

	result := PollResult{
		DeviceID:  st.profile.ID,
		Fetched:   st.fetched,
		Processed: rec.Processed(),
		Failed:    rec.Failed,
		Skipped:   st.fetched - len(st.punches),
		Took:      took,
	}
	if p.sink != nil {
		p.sink.PollCompleted(st.profile.ID, result.Fetched, result.Processed, result.Failed, took)
	}
	return result, nil
}

// BulkEntry is one device's outcome in a bulk poll.
type BulkEntry struct {
	DeviceID string      `json:"device_id"`
	Result   *PollResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// RunBulkPoll fetches every given device concurrently, then merges the
// normalized punches into one batch and reconciles it in a single pass. The
// reconciler's chronological ordering therefore spans devices: an employee
// punching two readers gets their directions resolved in wall-clock order,
// not per-device arrival order. Each device's cursor advances only after
// the merged dispatch; per-device failures are reported inline and never
// abort the rest.
func (p *PollRunner) RunBulkPoll(ctx context.Context, profiles []models.DeviceProfile) []BulkEntry {
	entries := make([]BulkEntry, len(profiles))
	stages := make([]*stagedFetch, len(profiles))

	var wg sync.WaitGroup
	for i := range profiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profile := &profiles[i]
			entries[i].DeviceID = profile.ID

			lock := p.lockFor(profile.ID)
			if !lock.busy.TryLock() {
				entries[i].Error = ErrPollInProgress.Error()
				return
			}

			st, err := p.stage(ctx, profile)
			if err != nil {
				lock.busy.Unlock()
				entries[i].Error = err.Error()
				return
			}
			stages[i] = st
		}(i)
	}
	wg.Wait()

	var merged []models.NormalizedPunch
	for _, st := range stages {
		if st != nil {
			merged = append(merged, st.punches...)
		}
	}
	_, perDevice := p.reconciler.ReconcileMerged(ctx, merged)

	for i, st := range stages {
		if st == nil {
			continue
		}
		result, err := p.commit(ctx, st, perDevice[st.profile.ID])
		p.lockFor(st.profile.ID).busy.Unlock()
		if err != nil {
			entries[i].Error = err.Error()
			continue
		}
		entries[i].Result = &result
	}
	return entries
}

// TestConnection authenticates against the device without fetching.
func (p *PollRunner) TestConnection(ctx context.Context, profile *models.DeviceProfile) error {
	adapter, err := vendors.New(profile)
	if err != nil {
		return err
	}
	defer func() { _ = adapter.Disconnect() }()
	_, err = adapter.Authenticate(ctx)
	return err
}

// Forget drops per-device state after the device is deleted.
func (p *PollRunner) Forget(deviceID string) {
	p.mu.Lock()
	delete(p.locks, deviceID)
	p.mu.Unlock()
	p.breakers.forget(deviceID)
}

func (p *PollRunner) lockFor(deviceID string) *deviceLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[deviceID]
	if !ok {
		lock = &deviceLock{}
		p.locks[deviceID] = lock
	}
	return lock
}
