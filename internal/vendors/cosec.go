// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
)

// COSEC numeric response codes. 0 is success; the rest is the fixed vendor
// error table and must be surfaced verbatim, never swallowed.
const (
	cosecCodeOK              = 0
	cosecCodeFailed          = 1
	cosecCodeInvalidLogin    = 2
	cosecCodeArgumentMissing = 3
	cosecCodeArgumentBad     = 4
	cosecCodeDeviceBusy      = 5
	cosecCodeMemoryFull      = 9
	cosecCodeUserNotFound    = 13
	cosecCodeRefIDConflict   = 14
)

// cosecResponseText is the vendor error table.
var cosecResponseText = map[int]string{
	cosecCodeFailed:          "request failed",
	cosecCodeInvalidLogin:    "invalid login credentials",
	cosecCodeArgumentMissing: "mandatory argument missing",
	cosecCodeArgumentBad:     "invalid argument value",
	cosecCodeDeviceBusy:      "device busy",
	cosecCodeMemoryFull:      "device memory full",
	cosecCodeUserNotFound:    "user id not found",
	cosecCodeRefIDConflict:   "reference user id already in use",
}

// cosecMaxRefIDAttempts bounds the reference-id allocation loop during user
// provisioning.
const cosecMaxRefIDAttempts = 50

// cosecPageSize is the number of events requested per exchange.
const cosecPageSize = 100

// cosecAdapter speaks the COSEC XML-over-HTTP API with Basic auth. Events
// are addressed by the (rollover count, sequence number) pair; fetching asks
// for everything from sequence+1 within the current rollover epoch.
type cosecAdapter struct {
	profile *models.DeviceProfile
	client  *http.Client
	baseURL string
}

func newCOSECAdapter(profile *models.DeviceProfile) *cosecAdapter {
	return &cosecAdapter{
		profile: profile,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: fmt.Sprintf("http://%s/device.cgi", profile.Addr()),
	}
}

func (a *cosecAdapter) Kind() models.VendorKind { return models.VendorCOSEC }

// cosecEventsResponse is the events document.
type cosecEventsResponse struct {
	XMLName      xml.Name     `xml:"COSEC"`
	ResponseCode string       `xml:"Response-Code"`
	Events       []cosecEvent `xml:"Events>Event"`
}

type cosecEvent struct {
	UserID      string `xml:"userid"`
	Date        string `xml:"date"` // dd/mm/yyyy
	Time        string `xml:"time"` // HH:MM:SS
	EventDetail int    `xml:"eventdetail"`
	RollOver    int    `xml:"roll-over-count"`
	Sequence    int    `xml:"seq-number"`
}

// cosecActionResponse is the single-code document returned by set/get actions.
type cosecActionResponse struct {
	XMLName      xml.Name `xml:"COSEC"`
	ResponseCode string   `xml:"Response-Code"`
}

// Authenticate probes the device with a zero-event fetch so bad credentials
// surface before the device is scheduled.
func (a *cosecAdapter) Authenticate(ctx context.Context) (Credential, error) {
	query := url.Values{}
	query.Set("action", "getevent")
	query.Set("roll-over-count", "0")
	query.Set("seq-number", "1")
	query.Set("no-of-events", "1")
	query.Set("format", "xml")

	var doc cosecEventsResponse
	if err := a.get(ctx, "events", query, &doc); err != nil {
		return Credential{}, err
	}
	if err := a.checkCode(doc.ResponseCode); err != nil {
		return Credential{}, err
	}
	return Credential{}, nil
}

// FetchEvents consumes events strictly after the sequence cursor, advancing
// the cursor to the (rollover, sequence) of the last event in the batch.
// When the device's sequence counter wraps it reports a higher rollover
// count; the cursor follows the device.
func (a *cosecAdapter) FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	seq := cursor.Sequence
	if cursor.Kind != models.CursorSequence || seq == nil {
		init := models.InitialCursor(models.VendorCOSEC)
		seq = init.Sequence
	}

	var events []models.RawEvent
	rollOver, sequence := seq.RollOver, seq.Sequence

	for {
		query := url.Values{}
		query.Set("action", "getevent")
		query.Set("roll-over-count", strconv.Itoa(rollOver))
		query.Set("seq-number", strconv.Itoa(sequence+1))
		query.Set("no-of-events", strconv.Itoa(cosecPageSize))
		query.Set("format", "xml")

		var doc cosecEventsResponse
		if err := a.get(ctx, "events", query, &doc); err != nil {
			return nil, cursor, err
		}
		if err := a.checkCode(doc.ResponseCode); err != nil {
			return nil, cursor, err
		}
		if len(doc.Events) == 0 {
			break
		}

		for _, ev := range doc.Events {
			instant, err := parseCOSECTimestamp(ev.Date, ev.Time)
			if err != nil {
				return nil, cursor, protocolErr(models.VendorCOSEC, "event timestamp", err)
			}
			detail := ev.EventDetail
			events = append(events, models.RawEvent{
				DeviceID:     a.profile.ID,
				DeviceUserID: ev.UserID,
				Instant:      instant,
				VendorCode:   &detail,
				Sequence: &models.SequencePosition{
					RollOver: ev.RollOver,
					Sequence: ev.Sequence,
				},
			})
			rollOver, sequence = ev.RollOver, ev.Sequence
		}

		if len(doc.Events) < cosecPageSize {
			break
		}
	}

	if len(events) == 0 {
		return nil, cursor, nil
	}
	return events, models.NewSequenceCursor(rollOver, sequence), nil
}

// Disconnect is a no-op; the API is stateless per request.
func (a *cosecAdapter) Disconnect() error { return nil }

// ProvisionUser enrolls a device-local user, allocating a fresh reference
// user id when the device answers "user id not found" or reports the id in
// use: the id is incremented and the set retried until a value sticks.
func (a *cosecAdapter) ProvisionUser(ctx context.Context, deviceUserID, name string, refUserID int) (int, error) {
	if refUserID <= 0 {
		refUserID = 1
	}

	for attempt := 0; attempt < cosecMaxRefIDAttempts; attempt++ {
		query := url.Values{}
		query.Set("action", "set")
		query.Set("user-id", deviceUserID)
		query.Set("ref-user-id", strconv.Itoa(refUserID))
		query.Set("name", name)
		query.Set("user-active", "1")
		query.Set("format", "xml")

		var doc cosecActionResponse
		if err := a.get(ctx, "users", query, &doc); err != nil {
			return 0, err
		}

		code, err := strconv.Atoi(doc.ResponseCode)
		if err != nil {
			return 0, protocolErr(models.VendorCOSEC, fmt.Sprintf("response code %q", doc.ResponseCode), err)
		}
		switch code {
		case cosecCodeOK:
			return refUserID, nil
		case cosecCodeUserNotFound, cosecCodeRefIDConflict:
			logging.Debug().
				Str("device", a.profile.ID).
				Str("user", deviceUserID).
				Int("ref_user_id", refUserID).
				Int("code", code).
				Msg("cosec ref-user-id rejected, allocating next")
			refUserID++
		default:
			return 0, a.codeError(code)
		}
	}
	return 0, protocolErr(models.VendorCOSEC,
		fmt.Sprintf("no free reference user id after %d attempts", cosecMaxRefIDAttempts), nil)
}

// get performs one Basic-auth GET against a device.cgi resource.
func (a *cosecAdapter) get(ctx context.Context, resource string, query url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s/%s?%s", a.baseURL, resource, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return protocolErr(models.VendorCOSEC, "build request", err)
	}
	req.SetBasicAuth(a.profile.Username, a.profile.Password)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyNetErr(models.VendorCOSEC, resource, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return authErr(models.VendorCOSEC, strconv.Itoa(resp.StatusCode), "basic auth rejected")
	default:
		return protocolErr(models.VendorCOSEC, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return classifyNetErr(models.VendorCOSEC, "read body", err)
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return protocolErr(models.VendorCOSEC, fmt.Sprintf("malformed xml: %.120s", body), err)
	}
	return nil
}

// checkCode converts a document-level response code into the taxonomy.
func (a *cosecAdapter) checkCode(codeStr string) error {
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return protocolErr(models.VendorCOSEC, fmt.Sprintf("response code %q", codeStr), err)
	}
	if code == cosecCodeOK {
		return nil
	}
	return a.codeError(code)
}

// codeError maps a nonzero vendor code to a classified error.
func (a *cosecAdapter) codeError(code int) error {
	msg, ok := cosecResponseText[code]
	if !ok {
		msg = "unknown vendor code"
	}
	codeStr := strconv.Itoa(code)
	switch code {
	case cosecCodeInvalidLogin:
		return authErr(models.VendorCOSEC, codeStr, msg)
	case cosecCodeDeviceBusy, cosecCodeMemoryFull:
		return busyErr(models.VendorCOSEC, codeStr, msg)
	default:
		return newError(KindProtocol, models.VendorCOSEC, codeStr, msg, nil)
	}
}

// parseCOSECTimestamp combines the device's dd/mm/yyyy date and HH:MM:SS time.
func parseCOSECTimestamp(date, clock string) (time.Time, error) {
	return time.ParseInLocation("02/01/2006 15:04:05", date+" "+clock, time.Local)
}
