package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/keygen"
	"github.com/toolboxhq/keygate/internal/model"
)

// DefaultValidity is how long an issued license stays valid.
const DefaultValidity = 365 * 24 * time.Hour

// Options configures the license and API-key services. Zero fields take
// defaults.
type Options struct {
	Validity    time.Duration
	DefaultType string
	Now         func() time.Time
	Keys        *keygen.Generator
	Logger      *slog.Logger

	// Offline marks licenses issued by this instance as locally generated.
	Offline bool
}

func (o Options) withDefaults() Options {
	if o.Validity <= 0 {
		o.Validity = DefaultValidity
	}
	if o.DefaultType == "" {
		o.DefaultType = model.TierPro
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Keys == nil {
		o.Keys = keygen.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// now returns the current time in UTC at microsecond precision, which every
// supported store round-trips exactly.
func (o Options) now() time.Time {
	return o.Now().UTC().Truncate(time.Microsecond)
}

// LicenseService issues, verifies, revokes and reports on licenses.
type LicenseService struct {
	store LicenseStore
	opts  Options
}

func NewLicenseService(store LicenseStore, opts Options) *LicenseService {
	return &LicenseService{store: store, opts: opts.withDefaults()}
}

// Issue creates an active license for email valid for the configured window.
// An empty tier takes the default tier.
func (s *LicenseService) Issue(ctx context.Context, email, name, tier string) (*model.License, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	tier = strings.TrimSpace(tier)
	if tier == "" {
		tier = s.opts.DefaultType
	}

	now := s.opts.now()
	lic := &model.License{
		Email:     email,
		Name:      strings.TrimSpace(name),
		Type:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.Validity),
		IsActive:  true,
		Offline:   s.opts.Offline,
	}

	// A key collision is astronomically unlikely; one retry with a fresh
	// nonce covers it.
	for attempt := 0; ; attempt++ {
		key, err := s.opts.Keys.License(email, tier)
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}
		lic.Key = key
		err = s.store.CreateLicense(ctx, lic)
		if errors.Is(err, config.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, storeErr("create license", err)
		}
		break
	}

	s.opts.Logger.Info("license issued",
		"key_prefix", prefix(lic.Key), "email", lic.Email, "license_type", lic.Type,
		"expires_at", lic.ExpiresAt)
	return lic, nil
}

// Verify checks key against the stored record and, on success, counts the
// verification. Checks run in order: existence, active flag, expiry,
// owner email. Failed verifications leave the record untouched.
func (s *LicenseService) Verify(ctx context.Context, key, email string) (*model.License, error) {
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return nil, s.verifyFailed(key, storeErr("get license", err))
	}
	if !lic.IsActive {
		return nil, s.verifyFailed(key, ErrInactive)
	}
	now := s.opts.now()
	if lic.Expired(now) {
		return nil, s.verifyFailed(key, ErrExpired)
	}
	if lic.Email != email {
		return nil, s.verifyFailed(key, ErrOwnerMismatch)
	}

	touched, err := s.store.TouchLicense(ctx, key, now)
	if err != nil {
		return nil, s.verifyFailed(key, storeErr("record license usage", err))
	}
	return touched, nil
}

func (s *LicenseService) verifyFailed(key string, err error) error {
	s.opts.Logger.Debug("license verification failed", "key_prefix", prefix(key), "error", err)
	return err
}

// Revoke deactivates a license. Revoking twice succeeds.
func (s *LicenseService) Revoke(ctx context.Context, key string) error {
	if err := s.store.RevokeLicense(ctx, key); err != nil {
		return storeErr("revoke license", err)
	}
	s.opts.Logger.Info("license revoked", "key_prefix", prefix(key))
	return nil
}

// Info returns the full stored record.
func (s *LicenseService) Info(ctx context.Context, key string) (*model.License, error) {
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return nil, storeErr("get license", err)
	}
	return lic, nil
}

// List returns licenses matching f, newest first.
func (s *LicenseService) List(ctx context.Context, f config.LicenseFilter) ([]model.License, error) {
	lics, err := s.store.ListLicenses(ctx, f)
	if err != nil {
		return nil, storeErr("list licenses", err)
	}
	return lics, nil
}

// Export writes one license as an indented JSON document.
func (s *LicenseService) Export(ctx context.Context, key string, w io.Writer) error {
	lic, err := s.Info(ctx, key)
	if err != nil {
		return err
	}
	return WriteLicense(w, lic)
}

// Import reads a license document written by Export and stores it, replacing
// any record with the same key.
func (s *LicenseService) Import(ctx context.Context, r io.Reader) (*model.License, error) {
	lic, err := ReadLicense(r)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutLicense(ctx, lic); err != nil {
		return nil, storeErr("import license", err)
	}
	s.opts.Logger.Info("license imported", "key_prefix", prefix(lic.Key), "email", lic.Email)
	return lic, nil
}

// requiredLicenseFields must be present in an imported license document.
var requiredLicenseFields = []string{"license_key", "email", "license_type", "created_at", "expires_at"}

// ReadLicense decodes and validates a single license document.
func ReadLicense(r io.Reader) (*model.License, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: license file is not a JSON object: %v", ErrInvalidInput, err)
	}
	for _, f := range requiredLicenseFields {
		if _, ok := fields[f]; !ok {
			return nil, fmt.Errorf("%w: license file is missing %q", ErrInvalidInput, f)
		}
	}

	var lic model.License
	if err := json.Unmarshal(b, &lic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := lic.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return &lic, nil
}

// WriteLicense encodes lic in the license file format.
func WriteLicense(w io.Writer, lic *model.License) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(lic); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	return nil
}

// prefix shortens a key for logs.
func prefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
