// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/ledger"
	"github.com/tomtom215/clockbridge/internal/models"
	"github.com/tomtom215/clockbridge/internal/store"
)

type pollFixture struct {
	db     *store.DB
	led    *ledger.Gorm
	runner *PollRunner
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	led, err := ledger.New(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	badgerDB, err := cursor.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = badgerDB.Close() })

	runner := NewPollRunner(db, cursor.NewBadgerStore(badgerDB),
		attendance.NewNormalizer(db), attendance.NewReconciler(led),
		BreakerConfig{Threshold: 5, Cooldown: time.Minute}, nil)

	return &pollFixture{db: db, led: led, runner: runner}
}

// punchServer serves the eTimeOffice download format from a mutable list.
func punchServer(t *testing.T, punches *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"PunchData":[`)
		for i, p := range *punches {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, p)
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestRunPollEndToEnd(t *testing.T) {
	fx := newPollFixture(t)
	ctx := context.Background()

	punches := []string{
		`{"Empcode":"E100","PunchDate":"15/03/2026 08:30:00"}`,
		`{"Empcode":"E100","PunchDate":"15/03/2026 17:45:00"}`,
		`{"Empcode":"E999","PunchDate":"15/03/2026 09:00:00"}`, // unmapped
	}
	srv := punchServer(t, &punches)
	defer srv.Close()

	profile := &models.DeviceProfile{
		ID:         "eto-1",
		Name:       "Hosted service",
		VendorKind: models.VendorETimeOffice,
		APIURL:     srv.URL,
		Username:   "corp:admin",
		Password:   "secret",
		Direction:  models.DirectionAlternating,
		Active:     true,
	}
	if err := fx.db.CreateDevice(ctx, profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := fx.db.MapIdentity(ctx, &models.IdentityMapping{
		DeviceID: "eto-1", DeviceUserID: "E100", EmployeeRef: "EMP-100",
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}

	res, err := fx.runner.RunPoll(ctx, "eto-1")
	if err != nil {
		t.Fatalf("RunPoll: %v", err)
	}
	if res.Fetched != 3 || res.Processed != 2 || res.Failed != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want fetched 3, processed 2, skipped 1", res)
	}

	acts, err := fx.led.ListActivities(ctx, "EMP-100", "2026-03-15")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities, want 1 closed interval", len(acts))
	}
	if acts[0].OutInstant == nil {
		t.Error("activity not closed; alternating punches must pair up")
	}

	// Second poll over the same device data: the cursor excludes everything.
	res, err = fx.runner.RunPoll(ctx, "eto-1")
	if err != nil {
		t.Fatalf("second RunPoll: %v", err)
	}
	if res.Fetched != 0 || res.Processed != 0 {
		t.Errorf("second poll = %+v, want nothing new past cursor", res)
	}

	dev, err := fx.db.GetDevice(ctx, "eto-1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	want := time.Date(2026, 3, 15, 17, 45, 0, 0, time.Local)
	if !dev.LastFetchInstant.Equal(want) {
		t.Errorf("LastFetchInstant = %v, want %v", dev.LastFetchInstant, want)
	}
}

func TestRunPollDeviceNotFound(t *testing.T) {
	fx := newPollFixture(t)
	if _, err := fx.runner.RunPoll(context.Background(), "missing"); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestRunPollSkipsWhenBusy(t *testing.T) {
	fx := newPollFixture(t)

	lock := fx.runner.lockFor("dev-1")
	lock.busy.Lock()
	defer lock.busy.Unlock()

	if _, err := fx.runner.RunPoll(context.Background(), "dev-1"); !errors.Is(err, ErrPollInProgress) {
		t.Errorf("err = %v, want ErrPollInProgress", err)
	}
}

func TestRunPollAuthFailureLeavesCursorAlone(t *testing.T) {
	fx := newPollFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	profile := &models.DeviceProfile{
		ID:         "eto-1",
		Name:       "Hosted service",
		VendorKind: models.VendorETimeOffice,
		APIURL:     srv.URL,
		Username:   "corp:admin",
		Password:   "wrong",
		Direction:  models.DirectionAlternating,
		Active:     true,
	}
	if err := fx.db.CreateDevice(ctx, profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if _, err := fx.runner.RunPoll(ctx, "eto-1"); err == nil {
		t.Fatal("expected auth failure")
	}

	if _, err := fx.runner.cursors.Load("eto-1"); !errors.Is(err, cursor.ErrNotFound) {
		t.Errorf("cursor written on failed poll: %v", err)
	}
}

// cursorObservingLedger records whether the device's cursor had already
// advanced by the time each punch reached the ledger.
type cursorObservingLedger struct {
	cursors  *cursor.BadgerStore
	deviceID string

	calls            int
	cursorSavedFirst bool
}

func (l *cursorObservingLedger) observe() {
	l.calls++
	if _, err := l.cursors.Load(l.deviceID); !errors.Is(err, cursor.ErrNotFound) {
		l.cursorSavedFirst = true
	}
}

func (l *cursorObservingLedger) ClockIn(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error {
	l.observe()
	return nil
}

func (l *cursorObservingLedger) ClockOut(ctx context.Context, employeeRef, civilDate, civilTime string, instant time.Time) error {
	l.observe()
	return nil
}

func (l *cursorObservingLedger) OpenActivity(ctx context.Context, employeeRef string, asOf time.Time) (bool, error) {
	return false, nil
}

func (l *cursorObservingLedger) LastDirection(ctx context.Context, employeeRef string) (models.PunchDirection, bool, error) {
	return "", false, nil
}

func TestRunPollSavesCursorAfterLedgerDispatch(t *testing.T) {
	fx := newPollFixture(t)
	ctx := context.Background()

	punches := []string{`{"Empcode":"E100","PunchDate":"15/03/2026 08:30:00"}`}
	srv := punchServer(t, &punches)
	defer srv.Close()

	gate := &cursorObservingLedger{cursors: fx.runner.cursors, deviceID: "eto-1"}
	runner := NewPollRunner(fx.db, fx.runner.cursors,
		attendance.NewNormalizer(fx.db), attendance.NewReconciler(gate),
		BreakerConfig{Threshold: 5, Cooldown: time.Minute}, nil)

	profile := &models.DeviceProfile{
		ID:         "eto-1",
		Name:       "Hosted service",
		VendorKind: models.VendorETimeOffice,
		APIURL:     srv.URL,
		Username:   "corp:admin",
		Password:   "secret",
		Direction:  models.DirectionAlternating,
		Active:     true,
	}
	if err := fx.db.CreateDevice(ctx, profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := fx.db.MapIdentity(ctx, &models.IdentityMapping{
		DeviceID: "eto-1", DeviceUserID: "E100", EmployeeRef: "EMP-100",
	}); err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}

	if _, err := runner.RunPoll(ctx, "eto-1"); err != nil {
		t.Fatalf("RunPoll: %v", err)
	}
	if gate.calls != 1 {
		t.Fatalf("ledger calls = %d, want 1", gate.calls)
	}
	if gate.cursorSavedFirst {
		t.Error("cursor advanced before the batch reached the ledger; a crash mid-dispatch would drop the batch")
	}

	cur, err := fx.runner.cursors.Load("eto-1")
	if err != nil {
		t.Fatalf("cursor not saved after dispatch: %v", err)
	}
	want := time.Date(2026, 3, 15, 8, 30, 0, 0, time.Local)
	if !cur.LastFetch().Equal(want) {
		t.Errorf("cursor LastFetch = %v, want %v", cur.LastFetch(), want)
	}
}

func TestRunBulkPollMergesAcrossDevices(t *testing.T) {
	fx := newPollFixture(t)
	ctx := context.Background()

	// The same employee punches two readers. Listing the late device first
	// means per-device reconciliation would see 09:00 before 08:00 and pair
	// the interval backwards; the merged batch must restore clock order.
	punchesA := []string{`{"Empcode":"E100","PunchDate":"15/03/2026 09:00:00"}`}
	punchesB := []string{`{"Empcode":"E100","PunchDate":"15/03/2026 08:00:00"}`}
	srvA := punchServer(t, &punchesA)
	defer srvA.Close()
	srvB := punchServer(t, &punchesB)
	defer srvB.Close()

	profiles := []models.DeviceProfile{
		{
			ID: "eto-a", Name: "Gate A", VendorKind: models.VendorETimeOffice,
			APIURL: srvA.URL, Username: "corp:admin", Password: "secret",
			Direction: models.DirectionAlternating, Active: true,
		},
		{
			ID: "eto-b", Name: "Gate B", VendorKind: models.VendorETimeOffice,
			APIURL: srvB.URL, Username: "corp:admin", Password: "secret",
			Direction: models.DirectionAlternating, Active: true,
		},
	}
	for i := range profiles {
		if err := fx.db.CreateDevice(ctx, &profiles[i]); err != nil {
			t.Fatalf("CreateDevice %s: %v", profiles[i].ID, err)
		}
		if err := fx.db.MapIdentity(ctx, &models.IdentityMapping{
			DeviceID: profiles[i].ID, DeviceUserID: "E100", EmployeeRef: "EMP-100",
		}); err != nil {
			t.Fatalf("MapIdentity %s: %v", profiles[i].ID, err)
		}
	}

	entries := fx.runner.RunBulkPoll(ctx, profiles)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Error != "" {
			t.Fatalf("device %s failed: %s", e.DeviceID, e.Error)
		}
		if e.Result == nil || e.Result.Fetched != 1 || e.Result.Processed != 1 {
			t.Errorf("device %s result = %+v, want fetched 1, processed 1", e.DeviceID, e.Result)
		}
	}

	acts, err := fx.led.ListActivities(ctx, "EMP-100", "2026-03-15")
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d activities, want 1 interval spanning both devices", len(acts))
	}
	if acts[0].OutInstant == nil {
		t.Fatal("activity not closed; punches must pair in wall-clock order across devices")
	}
	wantIn := time.Date(2026, 3, 15, 8, 0, 0, 0, time.Local)
	wantOut := time.Date(2026, 3, 15, 9, 0, 0, 0, time.Local)
	if !acts[0].InInstant.Equal(wantIn) || !acts[0].OutInstant.Equal(wantOut) {
		t.Errorf("interval = %v..%v, want %v..%v", acts[0].InInstant, acts[0].OutInstant, wantIn, wantOut)
	}

	for id, want := range map[string]time.Time{"eto-a": wantOut, "eto-b": wantIn} {
		cur, err := fx.runner.cursors.Load(id)
		if err != nil {
			t.Fatalf("cursor %s: %v", id, err)
		}
		if !cur.LastFetch().Equal(want) {
			t.Errorf("cursor %s LastFetch = %v, want %v", id, cur.LastFetch(), want)
		}
	}
}

// anvizServer answers the cloud envelope protocol: a fixed token for
// authorize.token, an empty record page for everything else.
func anvizServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Header struct {
				NameSpace string `json:"nameSpace"`
			} `json:"header"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if req.Header.NameSpace == "authorize.token" {
			fmt.Fprintf(w, `{"code":"0","payload":{"token":%q,"expires":3600}}`, token)
			return
		}
		fmt.Fprint(w, `{"code":"0","payload":{"count":0,"pageCount":1,"list":[]}}`)
	}))
}

func TestRunPollPersistsRefreshedTokenOnEmptyFetch(t *testing.T) {
	fx := newPollFixture(t)
	ctx := context.Background()

	srv := anvizServer(t, "tok-1")
	defer srv.Close()

	profile := &models.DeviceProfile{
		ID:         "anviz-1",
		Name:       "Cloud terminal",
		VendorKind: models.VendorAnviz,
		APIURL:     srv.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Direction:  models.DirectionSystemDecided,
		Active:     true,
	}
	if err := fx.db.CreateDevice(ctx, profile); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	res, err := fx.runner.RunPoll(ctx, "anviz-1")
	if err != nil {
		t.Fatalf("RunPoll: %v", err)
	}
	if res.Fetched != 0 {
		t.Fatalf("Fetched = %d, want empty batch", res.Fetched)
	}

	// The issued token must survive the empty fetch, otherwise every tick
	// re-authenticates against the cloud API.
	cur, err := fx.runner.cursors.Load("anviz-1")
	if err != nil {
		t.Fatalf("token cursor not saved on empty fetch: %v", err)
	}
	if cur.Kind != models.CursorToken || cur.Token == nil {
		t.Fatalf("cursor = %+v, want token cursor", cur)
	}
	if cur.Token.APIToken != "tok-1" {
		t.Errorf("APIToken = %q, want tok-1", cur.Token.APIToken)
	}
	if !cur.LastFetch().IsZero() {
		t.Errorf("LastFetch = %v, want unchanged zero instant", cur.LastFetch())
	}
}

func TestTestConnection(t *testing.T) {
	fx := newPollFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"PunchData":[]}`)
	}))
	defer srv.Close()

	profile := &models.DeviceProfile{
		ID:         "eto-1",
		VendorKind: models.VendorETimeOffice,
		APIURL:     srv.URL,
		Username:   "corp:admin",
		Password:   "secret",
	}
	if err := fx.runner.TestConnection(context.Background(), profile); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}
