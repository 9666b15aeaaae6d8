// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"

	"github.com/tomtom215/clockbridge/internal/models"
)

// dahuaAdapter speaks the Dahua access-controller CGI API: digest-auth HTTP
// with line-oriented key=value responses. Multi-record responses group
// fields under "records[n].Field" keys that need structural parsing.
type dahuaAdapter struct {
	profile *models.DeviceProfile
	client  *http.Client
	baseURL string
}

func newDahuaAdapter(profile *models.DeviceProfile) *dahuaAdapter {
	return &dahuaAdapter{
		profile: profile,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &digest.Transport{
				Username: profile.Username,
				Password: profile.Password,
			},
		},
		baseURL: fmt.Sprintf("http://%s/cgi-bin", profile.Addr()),
	}
}

func (a *dahuaAdapter) Kind() models.VendorKind { return models.VendorDahua }

// dahuaTimeLayout is the controller's civil timestamp format.
const dahuaTimeLayout = "2006-01-02 15:04:05"

// Authenticate probes the controller so credential errors surface eagerly;
// digest auth itself happens per request.
func (a *dahuaAdapter) Authenticate(ctx context.Context) (Credential, error) {
	query := url.Values{}
	query.Set("action", "getMachineName")
	if _, err := a.get(ctx, "magicBox.cgi", query); err != nil {
		return Credential{}, err
	}
	return Credential{}, nil
}

// FetchEvents queries the access-record finder for card events strictly
// after the time cursor and advances the cursor to the last event returned.
func (a *dahuaAdapter) FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	since := cursor.LastFetch()

	query := url.Values{}
	query.Set("action", "find")
	query.Set("name", "AccessControlCardRec")
	if !since.IsZero() {
		query.Set("condition.StartTime", since.Format(dahuaTimeLayout))
	}
	query.Set("condition.EndTime", time.Now().Format(dahuaTimeLayout))

	body, err := a.get(ctx, "recordFinder.cgi", query)
	if err != nil {
		return nil, cursor, err
	}

	records, err := parseDahuaRecords(body)
	if err != nil {
		return nil, cursor, protocolErr(models.VendorDahua, "record response", err)
	}

	events := make([]models.RawEvent, 0, len(records))
	newest := since
	for _, rec := range records {
		instant, err := dahuaRecordTime(rec)
		if err != nil {
			return nil, cursor, protocolErr(models.VendorDahua, "record time", err)
		}
		if !instant.After(since) {
			continue
		}

		userID := rec["UserID"]
		if userID == "" {
			userID = rec["CardNo"]
		}
		ev := models.RawEvent{
			DeviceID:     a.profile.ID,
			DeviceUserID: userID,
			Instant:      instant,
		}
		// The controller reports direction as a door type string, not a code.
		switch rec["Type"] {
		case "Entry":
			ev.Direction = models.PunchIn
		case "Exit":
			ev.Direction = models.PunchOut
		}
		events = append(events, ev)
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
func (a *dahuaAdapter) Disconnect() error { return nil }

// get performs one digest-authenticated GET and returns the body.
func (a *dahuaAdapter) get(ctx context.Context, resource string, query url.Values) (string, error) {
	reqURL := fmt.Sprintf("%s/%s?%s", a.baseURL, resource, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return "", protocolErr(models.VendorDahua, "build request", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classifyNetErr(models.VendorDahua, resource, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", authErr(models.VendorDahua, strconv.Itoa(resp.StatusCode), "digest auth rejected")
	default:
		return "", protocolErr(models.VendorDahua, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", classifyNetErr(models.VendorDahua, "read body", err)
	}
	return string(body), nil
}

// dahuaRecordKey matches "records[n].Field" (and nested "Field.Sub") keys.
var dahuaRecordKey = regexp.MustCompile(`^records\[(\d+)\]\.(.+)$`)

// parseDahuaRecords structurally parses the controller's line-oriented
// key=value response into one map per record index. Lines outside the
// records group (totalCount, found) are ignored.
func parseDahuaRecords(body string) ([]map[string]string, error) {
	byIndex := make(map[int]map[string]string)
	maxIndex := -1

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %q: missing '='", line)
		}
		m := dahuaRecordKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("record index in %q", key)
		}
		if byIndex[idx] == nil {
			byIndex[idx] = make(map[string]string)
		}
		byIndex[idx][m[2]] = value
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	records := make([]map[string]string, 0, maxIndex+1)
	for i := 0; i <= maxIndex; i++ {
		if rec, ok := byIndex[i]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// dahuaRecordTime extracts the event instant. Newer firmware sends a unix
// CreateTime; older firmware sends a civil RecTime string.
func dahuaRecordTime(rec map[string]string) (time.Time, error) {
	if v := rec["CreateTime"]; v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("CreateTime %q: %w", v, err)
		}
		return time.Unix(unix, 0), nil
	}
	if v := rec["RecTime"]; v != "" {
		return time.ParseInLocation(dahuaTimeLayout, v, time.Local)
	}
	return time.Time{}, fmt.Errorf("record has neither CreateTime nor RecTime")
}
