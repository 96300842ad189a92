package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIKey is a stored grant tied to a service name. It has no expiry; IsActive
// is its only lifecycle gate. The raw key is never stored; only a SHA-256
// hash and a short prefix for identification are persisted.
type APIKey struct {
	KeyHash    string     `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 8 chars for identification
	Service    string     `json:"service" db:"service"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Validate checks the invariants every persisted API key must satisfy.
func (k *APIKey) Validate() error {
	switch {
	case k.KeyHash == "":
		return fmt.Errorf("%w: key_hash is required", ErrInvalidRecord)
	case k.Service == "":
		return fmt.Errorf("%w: service is required", ErrInvalidRecord)
	case k.CreatedAt.IsZero():
		return fmt.Errorf("%w: created_at is required", ErrInvalidRecord)
	case k.UsageCount < 0:
		return fmt.Errorf("%w: usage_count is negative", ErrInvalidRecord)
	}
	return nil
}

// UnmarshalJSON tolerates the same timestamp encodings as License.
func (k *APIKey) UnmarshalJSON(b []byte) error {
	type alias APIKey
	var raw struct {
		alias
		CreatedAt flexTime `json:"created_at"`
		LastUsed  flexTime `json:"last_used"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*k = APIKey(raw.alias)
	k.CreatedAt = raw.CreatedAt.Time
	k.LastUsed = raw.LastUsed.ptr()
	return nil
}

// LastUsedString renders LastUsed for usage reports, "Never" when unset.
func (k *APIKey) LastUsedString() string {
	if k.LastUsed == nil {
		return "Never"
	}
	return k.LastUsed.UTC().Format(time.RFC3339)
}
