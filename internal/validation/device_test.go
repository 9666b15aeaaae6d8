// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/clockbridge/internal/models"
)

func validProfile(kind models.VendorKind) *models.DeviceProfile {
	p := &models.DeviceProfile{
		ID:         "dev-1",
		Name:       "Lobby",
		VendorKind: kind,
		Direction:  models.DirectionSystemDecided,
		Active:     true,
	}
	switch kind {
	case models.VendorZK:
		p.Host, p.Port = "10.0.0.10", 4370
	case models.VendorAnviz:
		p.APIURL, p.APIKey, p.APISecret = "https://api.example.com", "key", "secret"
	case models.VendorCOSEC, models.VendorDahua:
		p.Host, p.Port = "10.0.0.11", 80
		p.Username, p.Password = "admin", "secret"
	case models.VendorETimeOffice:
		p.APIURL = "https://api.etimeoffice.example"
		p.Username, p.Password = "corp:admin", "secret"
	}
	return p
}

func TestValidateDeviceProfilePerVendor(t *testing.T) {
	for _, kind := range models.AllVendorKinds {
		t.Run(string(kind), func(t *testing.T) {
			if err := ValidateDeviceProfile(validProfile(kind)); err != nil {
				t.Errorf("valid %s profile rejected: %v", kind, err)
			}
		})
	}
}

func TestValidateDeviceProfileMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.DeviceProfile)
		kind    models.VendorKind
		wantSub string
	}{
		{"missing name", func(p *models.DeviceProfile) { p.Name = "" }, models.VendorZK, "name"},
		{"zk missing host", func(p *models.DeviceProfile) { p.Host = "" }, models.VendorZK, "host"},
		{"zk bad port", func(p *models.DeviceProfile) { p.Port = 0 }, models.VendorZK, "port"},
		{"zk port out of range", func(p *models.DeviceProfile) { p.Port = 70000 }, models.VendorZK, "port"},
		{"anviz missing url", func(p *models.DeviceProfile) { p.APIURL = "" }, models.VendorAnviz, "api_url"},
		{"anviz missing key", func(p *models.DeviceProfile) { p.APIKey = "" }, models.VendorAnviz, "api_key"},
		{"anviz missing secret", func(p *models.DeviceProfile) { p.APISecret = "" }, models.VendorAnviz, "api_secret"},
		{"cosec missing username", func(p *models.DeviceProfile) { p.Username = "" }, models.VendorCOSEC, "username"},
		{"dahua missing password", func(p *models.DeviceProfile) { p.Password = "" }, models.VendorDahua, "password"},
		{"etimeoffice missing url", func(p *models.DeviceProfile) { p.APIURL = "" }, models.VendorETimeOffice, "api_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile(tt.kind)
			tt.mutate(p)
			err := ValidateDeviceProfile(p)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not name %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateDeviceProfileVendorAndPolicy(t *testing.T) {
	p := validProfile(models.VendorZK)
	p.VendorKind = "unknown"
	if err := ValidateDeviceProfile(p); err == nil {
		t.Error("unknown vendor kind accepted")
	}

	p = validProfile(models.VendorZK)
	p.Direction = "sideways"
	if err := ValidateDeviceProfile(p); err == nil {
		t.Error("unknown direction policy accepted")
	}
}

func TestValidateDeviceProfileAcquisitionModes(t *testing.T) {
	p := validProfile(models.VendorZK)
	p.IsLive, p.IsScheduled = true, true
	if err := ValidateDeviceProfile(p); err == nil {
		t.Error("live and scheduled together accepted")
	}

	p = validProfile(models.VendorDahua)
	p.IsLive = true
	if err := ValidateDeviceProfile(p); err == nil {
		t.Error("live capture on a poll-only vendor accepted")
	}

	p = validProfile(models.VendorCOSEC)
	p.IsLive = true
	if err := ValidateDeviceProfile(p); err != nil {
		t.Errorf("cosec live capture rejected: %v", err)
	}
}

func TestValidateStruct(t *testing.T) {
	type form struct {
		Name string `validate:"required"`
		Port int    `validate:"gte=0,lte=65535"`
		URL  string `validate:"omitempty,url"`
	}

	if err := ValidateStruct(&form{Name: "ok", Port: 80}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}

	err := ValidateStruct(&form{Port: 99999, URL: "not a url"})
	if err == nil {
		t.Fatal("invalid struct accepted")
	}
	if len(err.Fields) != 3 {
		t.Fatalf("got %d field errors, want 3: %v", len(err.Fields), err)
	}
	msg := err.Error()
	for _, want := range []string{"required", "less than or equal", "valid URL"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
