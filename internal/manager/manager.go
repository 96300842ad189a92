// Package manager embeds license handling in desktop tools. It keeps a local
// file store under its data directory and, depending on the mode, talks to a
// remote keygate server first.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/toolboxhq/keygate/internal/client"
	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// Mode selects where the manager sends requests.
type Mode string

const (
	// ModeOffline uses the local store only.
	ModeOffline Mode = "offline"
	// ModeOnline uses the remote server only.
	ModeOnline Mode = "online"
	// ModeAuto tries the remote server and falls back to the local store when
	// it cannot be reached.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode name. An empty string selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeOffline, ModeOnline, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown client mode %q (want offline, online or auto)", s)
}

// Remote is the part of the keygate API the manager uses. *client.Client
// satisfies it.
type Remote interface {
	GenerateLicense(ctx context.Context, email, name, tier string) (*model.License, error)
	VerifyLicense(ctx context.Context, key, email string) (*client.LicenseVerification, error)
	LicenseInfo(ctx context.Context, key string) (*model.License, error)
	RevokeLicense(ctx context.Context, key string) error
	Limits(ctx context.Context, email string) (*client.LimitsReport, error)
	Check(ctx context.Context, email, kind string, count int) (model.Decision, error)
}

// Config configures a Manager.
type Config struct {
	Dir     string
	Mode    Mode
	Remote  Remote // required unless Mode is ModeOffline
	Options service.Options
	Logger  *slog.Logger
}

// Source names where a result came from.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Result is the outcome of a manager operation. Err carries the underlying
// error when OK is false.
type Result struct {
	OK      bool
	Message string
	License *model.License
	Source  string
	Err     error
}

// Manager owns the local store and an optional remote client.
type Manager struct {
	mode   Mode
	store  *config.FileStore
	local  *service.LicenseService
	gate   *service.Gate
	remote Remote
	logger *slog.Logger
}

// New opens the local store under cfg.Dir.
func New(cfg Config) (*Manager, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Mode != ModeOffline && cfg.Remote == nil {
		return nil, fmt.Errorf("client mode %s needs an api url", cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store, err := config.NewFileStore(cfg.Dir, cfg.Logger)
	if err != nil {
		return nil, err
	}

	opts := cfg.Options
	opts.Offline = true
	opts.Logger = cfg.Logger
	return &Manager{
		mode:   cfg.Mode,
		store:  store,
		local:  service.NewLicenseService(store, opts),
		gate:   service.NewGate(store, opts.Now),
		remote: cfg.Remote,
		logger: cfg.Logger,
	}, nil
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode { return m.mode }

// Dir returns the local data directory.
func (m *Manager) Dir() string { return m.store.Dir() }

// useRemote reports whether an operation should try the remote server first.
func (m *Manager) useRemote() bool { return m.mode != ModeOffline }

// fallback reports whether a remote error may be retried locally.
func (m *Manager) fallback(err error) bool {
	if m.mode == ModeAuto && errors.Is(err, service.ErrTransport) {
		m.logger.Warn("license server unreachable, using local store", "error", err)
		return true
	}
	return false
}

// Generate issues a license. Remotely issued licenses are cached locally;
// local ones are marked offline.
func (m *Manager) Generate(ctx context.Context, email, name, tier string) Result {
	if m.useRemote() {
		lic, err := m.remote.GenerateLicense(ctx, email, name, tier)
		if err == nil {
			if cerr := m.store.PutLicense(ctx, lic); cerr != nil {
				m.logger.Warn("cache remote license", "error", cerr)
			}
			return Result{OK: true, Message: "License generated", License: lic, Source: SourceRemote}
		}
		if !m.fallback(err) {
			return failure(err, SourceRemote)
		}
	}

	lic, err := m.local.Issue(ctx, email, name, tier)
	if err != nil {
		return failure(err, SourceLocal)
	}
	return Result{OK: true, Message: "License generated offline", License: lic, Source: SourceLocal}
}

// Verify checks key for email and counts a use on success.
func (m *Manager) Verify(ctx context.Context, key, email string) Result {
	if m.useRemote() {
		v, err := m.remote.VerifyLicense(ctx, key, email)
		if err == nil {
			lic := &model.License{
				Key:        key,
				Email:      email,
				Type:       v.LicenseType,
				ExpiresAt:  v.ExpiresAt,
				IsActive:   true,
				UsageCount: v.UsageCount,
			}
			return Result{OK: true, Message: "License verified", License: lic, Source: SourceRemote}
		}
		if !m.fallback(err) {
			return failure(err, SourceRemote)
		}
	}

	lic, err := m.local.Verify(ctx, key, email)
	if err != nil {
		return failure(err, SourceLocal)
	}
	return Result{OK: true, Message: "License verified", License: lic, Source: SourceLocal}
}

// Revoke deactivates a license. A locally cached copy is revoked as well.
func (m *Manager) Revoke(ctx context.Context, key string) Result {
	if m.useRemote() {
		err := m.remote.RevokeLicense(ctx, key)
		if err == nil {
			if lerr := m.local.Revoke(ctx, key); lerr != nil && !errors.Is(lerr, service.ErrNotFound) {
				m.logger.Warn("revoke cached license", "error", lerr)
			}
			return Result{OK: true, Message: "License revoked", Source: SourceRemote}
		}
		if !m.fallback(err) {
			return failure(err, SourceRemote)
		}
	}

	if err := m.local.Revoke(ctx, key); err != nil {
		return failure(err, SourceLocal)
	}
	return Result{OK: true, Message: "License revoked", Source: SourceLocal}
}

// Info returns the stored record for key.
func (m *Manager) Info(ctx context.Context, key string) Result {
	if m.useRemote() {
		lic, err := m.remote.LicenseInfo(ctx, key)
		if err == nil {
			return Result{OK: true, Message: "License found", License: lic, Source: SourceRemote}
		}
		if !m.fallback(err) {
			return failure(err, SourceRemote)
		}
	}

	lic, err := m.local.Info(ctx, key)
	if err != nil {
		return failure(err, SourceLocal)
	}
	return Result{OK: true, Message: "License found", License: lic, Source: SourceLocal}
}

// List returns every license in the local store, newest first.
func (m *Manager) List(ctx context.Context) ([]model.License, error) {
	return m.local.List(ctx, config.LicenseFilter{})
}

// Import loads a license file into the local store.
func (m *Manager) Import(ctx context.Context, path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Message: fmt.Sprintf("Cannot open license file: %v", err), Source: SourceLocal, Err: err}
	}
	defer f.Close()

	lic, err := m.local.Import(ctx, f)
	if err != nil {
		return failure(err, SourceLocal)
	}
	return Result{OK: true, Message: "License file loaded", License: lic, Source: SourceLocal}
}

// Export writes a locally stored license to path.
func (m *Manager) Export(ctx context.Context, key, path string) Result {
	lic, err := m.local.Info(ctx, key)
	if err != nil {
		return failure(err, SourceLocal)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return Result{Message: fmt.Sprintf("Cannot write license file: %v", err), Source: SourceLocal, Err: err}
	}
	if err := service.WriteLicense(f, lic); err != nil {
		f.Close()
		return Result{Message: err.Error(), Source: SourceLocal, Err: err}
	}
	if err := f.Close(); err != nil {
		return Result{Message: fmt.Sprintf("Cannot write license file: %v", err), Source: SourceLocal, Err: err}
	}
	return Result{OK: true, Message: "License exported to " + path, License: lic, Source: SourceLocal}
}

// Limits returns the feature-gate caps for email (any owner when empty).
func (m *Manager) Limits(ctx context.Context, email string) (model.Limits, error) {
	if m.useRemote() {
		rep, err := m.remote.Limits(ctx, email)
		if err == nil {
			return rep.Limits, nil
		}
		if !m.fallback(err) {
			return model.Limits{}, err
		}
	}
	return m.gate.Limits(ctx, email)
}

// IsPro reports whether email holds an active, unexpired paid license.
func (m *Manager) IsPro(ctx context.Context, email string) (bool, error) {
	l, err := m.Limits(ctx, email)
	if err != nil {
		return false, err
	}
	return l.IsPro, nil
}

func (m *Manager) Features(ctx context.Context, email string) (model.FeatureStatus, error) {
	l, err := m.Limits(ctx, email)
	if err != nil {
		return model.FeatureStatus{}, err
	}
	return l.Features(), nil
}

// Check decides whether count items of kind may be processed for email.
// The decision's Reason doubles as the message shown to the user.
func (m *Manager) Check(ctx context.Context, email, kind string, count int) Result {
	var (
		d   model.Decision
		err error
		src = SourceLocal
	)
	if m.useRemote() {
		src = SourceRemote
		d, err = m.remote.Check(ctx, email, kind, count)
		if err != nil && m.fallback(err) {
			src = SourceLocal
			d, err = m.gate.Check(ctx, email, kind, count)
		}
	} else {
		d, err = m.gate.Check(ctx, email, kind, count)
	}
	if err != nil {
		return failure(err, src)
	}
	if !d.Allowed {
		return Result{Message: d.Reason, Source: src}
	}
	return Result{OK: true, Message: "OK", Source: src}
}

// failure turns an error into a Result with a user-facing message.
func failure(err error, source string) Result {
	return Result{Message: Message(err), Source: source, Err: err}
}

// Message returns the user-facing text for a license error.
func Message(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, service.ErrNotFound):
		return "License not found"
	case errors.Is(err, service.ErrInactive):
		return "License is not active"
	case errors.Is(err, service.ErrOwnerMismatch):
		return "Email does not match the license owner"
	case errors.Is(err, service.ErrExpired):
		return "License has expired"
	case errors.Is(err, service.ErrTransport):
		return "Connection error"
	case errors.Is(err, service.ErrInvalidInput):
		return "Invalid license data: " + err.Error()
	}
	return err.Error()
}
