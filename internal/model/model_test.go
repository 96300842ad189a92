package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func testLicense() License {
	created := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	return License{
		Key:       "0123456789ABCDEF0123456789ABCDEF",
		Email:     "alice@example.com",
		Name:      "Alice",
		Type:      TierPro,
		CreatedAt: created,
		ExpiresAt: created.AddDate(0, 0, 365),
		IsActive:  true,
	}
}

func TestLicenseJSONRoundTrip(t *testing.T) {
	lic := testLicense()
	used := time.Date(2025, 2, 1, 8, 30, 0, 123456000, time.UTC)
	lic.LastUsed = &used
	lic.UsageCount = 7

	b, err := json.Marshal(lic)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var got License
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.Key != lic.Key || got.Email != lic.Email || got.Type != lic.Type {
		t.Errorf("identity fields changed: got %+v", got)
	}
	if !got.CreatedAt.Equal(lic.CreatedAt) || !got.ExpiresAt.Equal(lic.ExpiresAt) {
		t.Errorf("timestamps changed: got %v/%v", got.CreatedAt, got.ExpiresAt)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(used) {
		t.Errorf("LastUsed = %v, want %v", got.LastUsed, used)
	}
	if got.UsageCount != 7 {
		t.Errorf("UsageCount = %d, want 7", got.UsageCount)
	}
}

func TestLicenseJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(testLicense())
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	for _, field := range []string{"license_key", "email", "name", "license_type", "created_at", "expires_at", "is_active", "usage_count"} {
		if _, ok := m[field]; !ok {
			t.Errorf("missing field %q in %s", field, b)
		}
	}
	if _, ok := m["last_used"]; ok {
		t.Error("last_used should be omitted when unset")
	}
}

func TestLicenseUnmarshalNaiveTimestamps(t *testing.T) {
	doc := `{
		"license_key": "ABC",
		"email": "alice@example.com",
		"name": "Alice",
		"license_type": "pro",
		"created_at": "2024-05-01T10:00:00.123456",
		"expires_at": "2025-05-01T10:00:00.123456",
		"is_active": true,
		"usage_count": 2,
		"last_used": "Never"
	}`
	var lic License
	if err := json.Unmarshal([]byte(doc), &lic); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.Local).UTC()
	if !lic.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", lic.CreatedAt, want)
	}
	if lic.LastUsed != nil {
		t.Errorf("LastUsed = %v, want nil", lic.LastUsed)
	}
	if lic.UsageCount != 2 || !lic.IsActive {
		t.Errorf("got usage %d active %v", lic.UsageCount, lic.IsActive)
	}
}

func TestLicenseUnmarshalBadTimestamp(t *testing.T) {
	err := json.Unmarshal([]byte(`{"created_at": "yesterday"}`), &License{})
	if err == nil || !strings.Contains(err.Error(), "yesterday") {
		t.Fatalf("expected timestamp error, got %v", err)
	}
}

func TestLicenseValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*License)
		ok     bool
	}{
		{"valid", func(*License) {}, true},
		{"missing key", func(l *License) { l.Key = "" }, false},
		{"missing email", func(l *License) { l.Email = "" }, false},
		{"missing type", func(l *License) { l.Type = "" }, false},
		{"zero expiry", func(l *License) { l.ExpiresAt = time.Time{} }, false},
		{"expiry before creation", func(l *License) { l.ExpiresAt = l.CreatedAt.Add(-time.Hour) }, false},
		{"negative usage", func(l *License) { l.UsageCount = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := testLicense()
			tt.mutate(&lic)
			err := lic.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Validate() = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestLicenseExpired(t *testing.T) {
	lic := testLicense()
	if lic.Expired(lic.ExpiresAt) {
		t.Error("license should still be valid at its expiry instant")
	}
	if !lic.Expired(lic.ExpiresAt.Add(time.Second)) {
		t.Error("license should be expired after expires_at")
	}
}

func TestLicenseIsPaid(t *testing.T) {
	for tier, want := range map[string]bool{"pro": true, "enterprise": true, "free": false, "FREE": false} {
		lic := License{Type: tier}
		if got := lic.IsPaid(); got != want {
			t.Errorf("IsPaid(%q) = %v, want %v", tier, got, want)
		}
	}
}

func TestAPIKeyHashNeverSerialized(t *testing.T) {
	k := APIKey{KeyHash: "secret-hash", KeyPrefix: "abcd1234", Service: "billing", CreatedAt: time.Now()}
	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "secret-hash") {
		t.Errorf("key hash leaked into JSON: %s", b)
	}
}

func TestAPIKeyLastUsedString(t *testing.T) {
	k := APIKey{}
	if got := k.LastUsedString(); got != "Never" {
		t.Errorf("got %q, want %q", got, "Never")
	}
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	k.LastUsed = &ts
	if got := k.LastUsedString(); got != "2025-06-01T00:00:00Z" {
		t.Errorf("got %q, want %q", got, "2025-06-01T00:00:00Z")
	}
}

func TestParseTime(t *testing.T) {
	cases := map[string]bool{
		"2025-01-01T00:00:00Z":        true,
		"2025-01-01T00:00:00+03:00":   true,
		"2025-01-01T00:00:00.5":       true,
		"2025-01-01 00:00:00":         true,
		"":                            true,
		"Never":                       true,
		"01/01/2025":                  false,
	}
	for in, ok := range cases {
		_, err := ParseTime(in)
		if ok && err != nil {
			t.Errorf("ParseTime(%q) error: %v", in, err)
		}
		if !ok && err == nil {
			t.Errorf("ParseTime(%q) expected error", in)
		}
	}
}

func TestLimitsFeatures(t *testing.T) {
	free := FreeLimits().Features()
	if free.IsPro || free.CanUseBatch || free.CanUseUnlimitedPDF || free.HasWatermarkFeature {
		t.Errorf("free features = %+v, want all false", free)
	}
	pro := ProLimits(TierPro).Features()
	if !pro.IsPro || !pro.CanUseUnlimitedImages || !pro.HasCompressionFeature {
		t.Errorf("pro features = %+v, want all true", pro)
	}
}
