package manager

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxhq/keygate/internal/client"
	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/server"
	"github.com/toolboxhq/keygate/internal/service"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T, mode Mode, remote Remote) *Manager {
	t.Helper()
	m, err := New(Config{Dir: t.TempDir(), Mode: mode, Remote: remote, Logger: quiet})
	require.NoError(t, err)
	return m
}

// liveRemote starts a keygate server and returns a client for it.
func liveRemote(t *testing.T) *client.Client {
	t.Helper()
	store, err := config.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := server.DefaultConfig()
	cfg.VerifyPerMinute = 0
	ts := httptest.NewServer(server.New(cfg, store, service.Options{}, nil, quiet))
	t.Cleanup(ts.Close)
	return client.New(ts.URL)
}

// deadRemote returns a client pointed at a closed port.
func deadRemote(t *testing.T) *client.Client {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	return client.New(url, client.WithTimeout(time.Second))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "offline": ModeOffline, "ONLINE": ModeOnline, " auto ": ModeAuto} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("sometimes")
	assert.Error(t, err)
}

func TestNewRequiresRemoteOutsideOffline(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir(), Mode: ModeOnline})
	assert.Error(t, err)

	m, err := New(Config{Dir: t.TempDir(), Mode: ModeOffline})
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, m.Mode())
}

func TestOfflineLifecycle(t *testing.T) {
	m := newManager(t, ModeOffline, nil)
	ctx := context.Background()

	res := m.Generate(ctx, "ada@example.com", "Ada", "")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, SourceLocal, res.Source)
	assert.True(t, res.License.Offline)
	assert.FileExists(t, filepath.Join(m.Dir(), config.LicensesFile))

	res = m.Verify(ctx, res.License.Key, "ada@example.com")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, int64(1), res.License.UsageCount)

	bad := m.Verify(ctx, res.License.Key, "eve@example.com")
	assert.False(t, bad.OK)
	assert.Equal(t, "Email does not match the license owner", bad.Message)
	assert.ErrorIs(t, bad.Err, service.ErrOwnerMismatch)

	pro, err := m.IsPro(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, pro)

	require.True(t, m.Revoke(ctx, res.License.Key).OK)
	res = m.Verify(ctx, res.License.Key, "ada@example.com")
	assert.False(t, res.OK)
	assert.Equal(t, "License is not active", res.Message)

	pro, err = m.IsPro(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, pro)
}

func TestOfflineExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := New(Config{
		Dir:     t.TempDir(),
		Mode:    ModeOffline,
		Options: service.Options{Now: func() time.Time { return now }},
		Logger:  quiet,
	})
	require.NoError(t, err)
	ctx := context.Background()

	res := m.Generate(ctx, "ada@example.com", "", "pro")
	require.True(t, res.OK)

	now = now.Add(400 * 24 * time.Hour)
	v := m.Verify(ctx, res.License.Key, "ada@example.com")
	assert.False(t, v.OK)
	assert.Equal(t, "License has expired", v.Message)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newManager(t, ModeOffline, nil)
	dst := newManager(t, ModeOffline, nil)
	ctx := context.Background()

	gen := src.Generate(ctx, "ada@example.com", "Ada", "enterprise")
	require.True(t, gen.OK)

	path := filepath.Join(t.TempDir(), "ada.json")
	require.True(t, src.Export(ctx, gen.License.Key, path).OK)

	res := dst.Import(ctx, path)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "License file loaded", res.Message)

	got := dst.Info(ctx, gen.License.Key)
	require.True(t, got.OK)
	assert.Equal(t, gen.License.Key, got.License.Key)
	assert.Equal(t, gen.License.Type, got.License.Type)
	assert.True(t, gen.License.ExpiresAt.Equal(got.License.ExpiresAt))

	lics, err := dst.List(ctx)
	require.NoError(t, err)
	assert.Len(t, lics, 1)
}

func TestImportRejectsIncompleteFile(t *testing.T) {
	m := newManager(t, ModeOffline, nil)
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"license_key":"ABC","email":"a@b.c"}`), 0600))

	res := m.Import(context.Background(), path)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, service.ErrInvalidInput)

	res = m.Import(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, res.OK)
}

func TestExportUnknownKey(t *testing.T) {
	m := newManager(t, ModeOffline, nil)
	res := m.Export(context.Background(), "NOPE", filepath.Join(t.TempDir(), "x.json"))
	assert.False(t, res.OK)
	assert.Equal(t, "License not found", res.Message)
}

func TestOnlineCachesRemoteLicense(t *testing.T) {
	m := newManager(t, ModeOnline, liveRemote(t))
	ctx := context.Background()

	res := m.Generate(ctx, "ada@example.com", "Ada", "pro")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, SourceRemote, res.Source)
	assert.False(t, res.License.Offline)

	lics, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, lics, 1)
	assert.Equal(t, res.License.Key, lics[0].Key)

	v := m.Verify(ctx, res.License.Key, "ada@example.com")
	require.True(t, v.OK)
	assert.Equal(t, SourceRemote, v.Source)
	assert.Equal(t, int64(1), v.License.UsageCount)

	require.True(t, m.Revoke(ctx, res.License.Key).OK)
	cached := m.local
	lic, err := cached.Info(ctx, res.License.Key)
	require.NoError(t, err)
	assert.False(t, lic.IsActive)
}

func TestOnlineSurfacesTransportErrors(t *testing.T) {
	m := newManager(t, ModeOnline, deadRemote(t))
	res := m.Generate(context.Background(), "ada@example.com", "", "")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, service.ErrTransport)
	assert.Equal(t, "Connection error", res.Message)

	lics, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lics)
}

func TestAutoFallsBackOnTransportFailure(t *testing.T) {
	m := newManager(t, ModeAuto, deadRemote(t))
	ctx := context.Background()

	res := m.Generate(ctx, "ada@example.com", "", "")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, SourceLocal, res.Source)
	assert.True(t, res.License.Offline)

	v := m.Verify(ctx, res.License.Key, "ada@example.com")
	require.True(t, v.OK)
	assert.Equal(t, SourceLocal, v.Source)

	l, err := m.Limits(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, l.IsPro)

	c := m.Check(ctx, "nobody@example.com", service.KindPDF, 6)
	assert.False(t, c.OK)
	assert.Equal(t, SourceLocal, c.Source)
	assert.Contains(t, c.Message, "at most 5")
}

func TestAutoTreatsRemoteBusinessErrorsAsFinal(t *testing.T) {
	remote := liveRemote(t)
	m := newManager(t, ModeAuto, remote)
	ctx := context.Background()

	// A license that exists only locally is unknown to the reachable server.
	local := m.local
	lic, err := local.Issue(ctx, "ada@example.com", "", "pro")
	require.NoError(t, err)

	res := m.Verify(ctx, lic.Key, "ada@example.com")
	assert.False(t, res.OK)
	assert.Equal(t, SourceRemote, res.Source)
	assert.ErrorIs(t, res.Err, service.ErrNotFound)

	reloaded, err := local.Info(ctx, lic.Key)
	require.NoError(t, err)
	assert.Zero(t, reloaded.UsageCount)
}

func TestRemoteGateChecks(t *testing.T) {
	m := newManager(t, ModeOnline, liveRemote(t))
	ctx := context.Background()

	require.True(t, m.Generate(ctx, "pro@example.com", "", "pro").OK)

	f, err := m.Features(ctx, "pro@example.com")
	require.NoError(t, err)
	assert.True(t, f.CanUseBatch)

	res := m.Check(ctx, "pro@example.com", service.KindBatch, 1000)
	assert.True(t, res.OK)
	assert.Equal(t, "OK", res.Message)

	res = m.Check(ctx, "free@example.com", service.KindBatch, 11)
	assert.False(t, res.OK)
	assert.Nil(t, res.Err)

	l, err := m.Limits(ctx, "free@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.FreeLimits(), l)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "OK", Message(nil))
	assert.Equal(t, "License not found", Message(service.ErrNotFound))
	assert.Equal(t, "Connection error", Message(&client.Error{Status: 502}))
}
