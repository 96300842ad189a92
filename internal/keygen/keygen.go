// Package keygen derives license and API keys from caller attributes, the
// current time and a random nonce. Keys are unpredictable and practically
// unique; uniqueness against a store is not checked here.
package keygen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// LicenseKeyLength is the length of a license key in hex characters.
	LicenseKeyLength = 32
	// APIKeyLength is the length of an API key in hex characters.
	APIKeyLength = 24

	nonceBytes = 16
)

// ErrEmptyInput is returned when a required attribute is blank.
var ErrEmptyInput = errors.New("keygen: empty input")

// Generator produces keys. The zero value is not usable; use New or Default.
type Generator struct {
	now    func() time.Time
	random io.Reader
}

// New returns a Generator with an injectable clock and entropy source.
func New(now func() time.Time, random io.Reader) *Generator {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &Generator{now: now, random: random}
}

// Default uses the wall clock and crypto/rand.
var Default = New(nil, nil)

// License returns a 32-character uppercase hex key for the owner and tier.
func License(email, tier string) (string, error) { return Default.License(email, tier) }

// APIKey returns a 24-character lowercase hex key for the service.
func APIKey(service string) (string, error) { return Default.APIKey(service) }

func (g *Generator) License(email, tier string) (string, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(tier) == "" {
		return "", ErrEmptyInput
	}
	sum, err := g.digest(email, tier)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(sum[:LicenseKeyLength]), nil
}

func (g *Generator) APIKey(service string) (string, error) {
	if strings.TrimSpace(service) == "" {
		return "", ErrEmptyInput
	}
	sum, err := g.digest(service)
	if err != nil {
		return "", err
	}
	return sum[:APIKeyLength], nil
}

// digest hashes attrs:timestamp:nonce with SHA-256 and returns lowercase hex.
func (g *Generator) digest(attrs ...string) (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(g.random, nonce); err != nil {
		return "", fmt.Errorf("keygen: read nonce: %w", err)
	}
	parts := append(attrs,
		g.now().UTC().Format(time.RFC3339Nano),
		hex.EncodeToString(nonce),
	)
	h := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h[:]), nil
}
