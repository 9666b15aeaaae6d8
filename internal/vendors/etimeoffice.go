// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/clockbridge/internal/models"
)

// eTimeOffice wire formats. Range bounds use an underscore between date and
// time; punch timestamps come back with a space.
const (
	etoRangeLayout = "02/01/2006_15:04"
	etoPunchLayout = "02/01/2006 15:04:05"
)

// etoAdapter speaks the eTimeOffice hosted REST API: HTTP Basic auth
// (corporate id folded into the username) and date-range punch downloads.
// The service has no live mode; acquisition is poll-only.
type etoAdapter struct {
	profile *models.DeviceProfile
	client  *http.Client
}

func newETimeOfficeAdapter(profile *models.DeviceProfile) *etoAdapter {
	return &etoAdapter{
		profile: profile,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *etoAdapter) Kind() models.VendorKind { return models.VendorETimeOffice }

type etoPunch struct {
	Empcode   string `json:"Empcode"`
	PunchDate string `json:"PunchDate"` // dd/mm/yyyy HH:MM:SS
}

type etoResponse struct {
	PunchData []etoPunch `json:"PunchData"`
	Error     string     `json:"Error,omitempty"`
}

// Authenticate downloads an empty range as a credential probe.
func (a *etoAdapter) Authenticate(ctx context.Context) (Credential, error) {
	now := time.Now()
	if _, err := a.download(ctx, now, now); err != nil {
		return Credential{}, err
	}
	return Credential{}, nil
}

// FetchEvents downloads the punch list between the time cursor and now,
// keeping events strictly newer than the cursor.
func (a *etoAdapter) FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	since := cursor.LastFetch()
	from := since
	if from.IsZero() {
		// First fetch with no bookmark: pull the trailing year rather
		// than the service's entire history.
		from = time.Now().AddDate(-1, 0, 0)
	}

	punches, err := a.download(ctx, from, time.Now())
	if err != nil {
		return nil, cursor, err
	}

	events := make([]models.RawEvent, 0, len(punches))
	newest := since
	for _, p := range punches {
		instant, err := time.ParseInLocation(etoPunchLayout, p.PunchDate, time.Local)
		if err != nil {
			return nil, cursor, protocolErr(models.VendorETimeOffice, fmt.Sprintf("punch date %q", p.PunchDate), err)
		}
		if !since.IsZero() && !instant.After(since) {
			continue
		}
		// No punch code and no direction string: every eTimeOffice punch
		// is unresolved and relies on the device's direction policy.
		events = append(events, models.RawEvent{
			DeviceID:     a.profile.ID,
			DeviceUserID: p.Empcode,
			Instant:      instant,
		})
		if instant.After(newest) {
			newest = instant
		}
	}

	if len(events) == 0 {
		return nil, cursor, nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Instant.Before(events[j].Instant) })
	return events, models.NewTimeCursor(newest), nil
}

// Disconnect is a no-op; the API is stateless per request.
func (a *etoAdapter) Disconnect() error { return nil }

// download performs one DownloadPunchData exchange.
func (a *etoAdapter) download(ctx context.Context, from, to time.Time) ([]etoPunch, error) {
	query := url.Values{}
	query.Set("Empcode", "ALL")
	query.Set("FromDate", from.Format(etoRangeLayout))
	query.Set("ToDate", to.Format(etoRangeLayout))

	reqURL := fmt.Sprintf("%s/DownloadPunchData?%s", a.profile.APIURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, protocolErr(models.VendorETimeOffice, "build request", err)
	}
	req.SetBasicAuth(a.profile.Username, a.profile.Password)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(models.VendorETimeOffice, "download", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, authErr(models.VendorETimeOffice, strconv.Itoa(resp.StatusCode), "basic auth rejected")
	default:
		return nil, protocolErr(models.VendorETimeOffice, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var body etoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, protocolErr(models.VendorETimeOffice, "decode response", err)
	}
	if body.Error != "" {
		return nil, protocolErr(models.VendorETimeOffice, body.Error, nil)
	}
	return body.PunchData, nil
}
