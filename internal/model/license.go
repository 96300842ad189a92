package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known license tiers. Any non-empty tier is accepted; every tier other
// than TierFree unlocks unlimited use in the feature gate.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// ErrInvalidRecord is returned by Validate when a record cannot be persisted.
var ErrInvalidRecord = errors.New("invalid record")

// License is a stored grant of pro-tier access tied to an owner email.
// Revocation flips IsActive to false; records are never deleted.
type License struct {
	Key        string     `json:"license_key" db:"license_key"`
	Email      string     `json:"email" db:"email"`
	Name       string     `json:"name" db:"name"`
	Type       string     `json:"license_type" db:"license_type"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
	Offline    bool       `json:"offline,omitempty" db:"offline"`
}

// Expired reports whether the license is past its expiry at the given time.
func (l *License) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// IsPaid reports whether the tier unlocks unlimited usage.
func (l *License) IsPaid() bool {
	return !strings.EqualFold(l.Type, TierFree)
}

// Validate checks the invariants every persisted license must satisfy.
func (l *License) Validate() error {
	switch {
	case l.Key == "":
		return fmt.Errorf("%w: license_key is required", ErrInvalidRecord)
	case l.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidRecord)
	case l.Type == "":
		return fmt.Errorf("%w: license_type is required", ErrInvalidRecord)
	case l.CreatedAt.IsZero():
		return fmt.Errorf("%w: created_at is required", ErrInvalidRecord)
	case l.ExpiresAt.IsZero():
		return fmt.Errorf("%w: expires_at is required", ErrInvalidRecord)
	case l.ExpiresAt.Before(l.CreatedAt):
		return fmt.Errorf("%w: expires_at precedes created_at", ErrInvalidRecord)
	case l.UsageCount < 0:
		return fmt.Errorf("%w: usage_count is negative", ErrInvalidRecord)
	}
	return nil
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as the naive ISO-8601
// form ("2024-05-01T10:00:00.123456") written by older tooling.
func (l *License) UnmarshalJSON(b []byte) error {
	type alias License
	var raw struct {
		alias
		CreatedAt flexTime `json:"created_at"`
		ExpiresAt flexTime `json:"expires_at"`
		LastUsed  flexTime `json:"last_used"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*l = License(raw.alias)
	l.CreatedAt = raw.CreatedAt.Time
	l.ExpiresAt = raw.ExpiresAt.Time
	l.LastUsed = raw.LastUsed.ptr()
	return nil
}

// flexTime decodes the timestamp encodings seen in license files.
type flexTime struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		f.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	t, err := ParseTime(s)
	if err != nil {
		return err
	}
	f.Time = t
	return nil
}

func (f flexTime) ptr() *time.Time {
	if f.IsZero() {
		return nil
	}
	t := f.Time
	return &t
}

// ParseTime parses an RFC 3339 or naive ISO-8601 timestamp and returns it in
// UTC. Naive timestamps are read in local time. Empty strings and "Never"
// yield the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "never") {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
