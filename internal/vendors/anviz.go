// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
)

// Anviz cloud API envelope codes.
const (
	anvizCodeOK           = "0"
	anvizCodeTokenExpired = "TOKEN_EXPIRED"
	anvizCodeAuthFailed   = "AUTH_FAILED"
	anvizCodeBusy         = "DEVICE_BUSY"

	anvizPageSize = 100
	// anvizTokenSlack renews the token slightly before the server-side expiry.
	anvizTokenSlack = 30 * time.Second
)

// anvizAdapter talks JSON over HTTP to the Anviz cloud API. Every request
// carries an envelope header with the vendor-issued request-correlation id;
// the auth token lives in the device's token cursor and is refreshed
// transparently when the server answers the TOKEN_EXPIRED sentinel.
type anvizAdapter struct {
	profile *models.DeviceProfile
	client  *http.Client

	token       string
	tokenExpiry time.Time
}

func newAnvizAdapter(profile *models.DeviceProfile) *anvizAdapter {
	return &anvizAdapter{
		profile: profile,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *anvizAdapter) Kind() models.VendorKind { return models.VendorAnviz }

type anvizHeader struct {
	NameSpace  string `json:"nameSpace"`
	NameAction string `json:"nameAction"`
	Version    string `json:"version"`
	RequestID  string `json:"requestId"`
	Timestamp  string `json:"timestamp"`
}

type anvizEnvelope struct {
	Header  anvizHeader     `json:"header"`
	Code    string          `json:"code"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type anvizTokenPayload struct {
	Token   string `json:"token"`
	Expires int    `json:"expires"` // seconds
}

type anvizRecord struct {
	WorkNo    string `json:"workno"`
	CheckTime string `json:"checktime"` // RFC 3339
	CheckType *int   `json:"checktype"`
}

type anvizRecordPage struct {
	Count     int           `json:"count"`
	PageCount int           `json:"pageCount"`
	List      []anvizRecord `json:"list"`
}

// Authenticate obtains a fresh API token.
func (a *anvizAdapter) Authenticate(ctx context.Context) (Credential, error) {
	payload := map[string]string{
		"api_key":    a.profile.APIKey,
		"api_secret": a.profile.APISecret,
	}
	env, err := a.call(ctx, "authorize.token", "token", "", payload)
	if err != nil {
		return Credential{}, err
	}

	var tok anvizTokenPayload
	if err := json.Unmarshal(env.Payload, &tok); err != nil {
		return Credential{}, protocolErr(models.VendorAnviz, "token payload", err)
	}
	if tok.Token == "" {
		return Credential{}, protocolErr(models.VendorAnviz, "empty token in response", nil)
	}

	a.token = tok.Token
	a.tokenExpiry = time.Now().Add(time.Duration(tok.Expires) * time.Second)
	logging.Debug().Str("device", a.profile.ID).Time("expiry", a.tokenExpiry).Msg("anviz token issued")
	return Credential{Token: a.token, Expiry: a.tokenExpiry}, nil
}

// FetchEvents pages through attendance records newer than the cursor. The
// cached token from the cursor is reused while valid; a TOKEN_EXPIRED
// answer triggers exactly one silent refresh and one refetch of the same
// page, never an unbounded retry.
func (a *anvizAdapter) FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	since := cursor.LastFetch()
	if cursor.Kind == models.CursorToken && cursor.Token != nil {
		a.token = cursor.Token.APIToken
		a.tokenExpiry = cursor.Token.TokenExpiry
	}
	if err := a.ensureToken(ctx); err != nil {
		return nil, cursor, err
	}

	var events []models.RawEvent
	newest := since
	refreshed := false

	for page := 1; ; page++ {
		body := map[string]interface{}{
			"begin_time": since.Format(time.RFC3339),
			"order":      "asc",
			"page":       page,
			"per_page":   anvizPageSize,
		}
		env, err := a.call(ctx, "attendance.record", "getrecord", a.token, body)
		if err != nil {
			var ve *Error
			if isTokenExpired(err, &ve) {
				if refreshed {
					return nil, cursor, protocolErr(models.VendorAnviz, "token expired again after refresh", err)
				}
				refreshed = true
				if _, err := a.Authenticate(ctx); err != nil {
					return nil, cursor, err
				}
				page-- // refetch the same page once with the new token
				continue
			}
			return nil, cursor, err
		}

		var pageData anvizRecordPage
		if err := json.Unmarshal(env.Payload, &pageData); err != nil {
			return nil, cursor, protocolErr(models.VendorAnviz, "record payload", err)
		}

		for _, rec := range pageData.List {
			instant, err := time.Parse(time.RFC3339, rec.CheckTime)
			if err != nil {
				return nil, cursor, protocolErr(models.VendorAnviz, fmt.Sprintf("checktime %q", rec.CheckTime), err)
			}
			if !instant.After(since) {
				continue
			}
			events = append(events, models.RawEvent{
				DeviceID:     a.profile.ID,
				DeviceUserID: rec.WorkNo,
				Instant:      instant,
				VendorCode:   rec.CheckType,
			})
			if instant.After(newest) {
				newest = instant
			}
		}

		if page >= pageData.PageCount {
			break
		}
	}

	newCursor := models.NewTokenCursor(newest, a.token, a.tokenExpiry)
	if len(events) == 0 {
		newCursor = models.NewTokenCursor(since, a.token, a.tokenExpiry)
	}
	return events, newCursor, nil
}

// Disconnect is a no-op; the API is stateless per request.
func (a *anvizAdapter) Disconnect() error { return nil }

// ensureToken refreshes the cached token when missing or near expiry.
func (a *anvizAdapter) ensureToken(ctx context.Context) error {
	if a.token != "" && time.Now().Add(anvizTokenSlack).Before(a.tokenExpiry) {
		return nil
	}
	_, err := a.Authenticate(ctx)
	return err
}

// call performs one enveloped API exchange.
func (a *anvizAdapter) call(ctx context.Context, nameSpace, nameAction, token string, payload interface{}) (*anvizEnvelope, error) {
	requestID := a.profile.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	reqEnv := anvizEnvelope{
		Header: anvizHeader{
			NameSpace:  nameSpace,
			NameAction: nameAction,
			Version:    "1.0",
			RequestID:  requestID,
			Timestamp:  strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, protocolErr(models.VendorAnviz, "encode payload", err)
	}
	reqEnv.Payload = raw

	body, err := json.Marshal(reqEnv)
	if err != nil {
		return nil, protocolErr(models.VendorAnviz, "encode envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.profile.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, protocolErr(models.VendorAnviz, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(models.VendorAnviz, nameSpace+"."+nameAction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, protocolErr(models.VendorAnviz, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var env anvizEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, protocolErr(models.VendorAnviz, "decode envelope", err)
	}

	switch env.Code {
	case anvizCodeOK, "":
		return &env, nil
	case anvizCodeTokenExpired:
		return nil, newError(KindAuth, models.VendorAnviz, anvizCodeTokenExpired, "token expired", nil)
	case anvizCodeAuthFailed:
		return nil, authErr(models.VendorAnviz, anvizCodeAuthFailed, env.Message)
	case anvizCodeBusy:
		return nil, busyErr(models.VendorAnviz, anvizCodeBusy, env.Message)
	default:
		return nil, protocolErr(models.VendorAnviz, fmt.Sprintf("code %s: %s", env.Code, env.Message), nil)
	}
}

// isTokenExpired distinguishes the refreshable sentinel from a hard auth
// failure (bad api key), which must surface to the operator instead.
func isTokenExpired(err error, ve **Error) bool {
	if !asVendorError(err, ve) {
		return false
	}
	return (*ve).Kind == KindAuth && (*ve).Code == anvizCodeTokenExpired
}
