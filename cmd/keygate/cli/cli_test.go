package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// execute runs the root command with fresh global state and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cfgFile, dataDir, logFormat, verbose = "", "", "", false

	cmd := newRootCmd("test", "abc123", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLicenseCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--data-dir", dir, "license", "issue", "--email", "ada@example.com", "--name", "Ada", "--json")
	require.NoError(t, err)
	var lic model.License
	require.NoError(t, json.Unmarshal([]byte(out), &lic))
	assert.Equal(t, "ada@example.com", lic.Email)
	assert.Equal(t, "pro", lic.Type)
	assert.True(t, lic.IsActive)

	out, err = execute(t, "--data-dir", dir, "license", "verify", lic.Key, "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "License is valid")

	_, err = execute(t, "--data-dir", dir, "license", "verify", lic.Key, "--email", "eve@example.com")
	assert.ErrorIs(t, err, service.ErrOwnerMismatch)

	out, err = execute(t, "--data-dir", dir, "license", "list")
	require.NoError(t, err)
	assert.Contains(t, out, lic.Key)

	_, err = execute(t, "--data-dir", dir, "license", "revoke", lic.Key)
	require.NoError(t, err)

	_, err = execute(t, "--data-dir", dir, "license", "verify", lic.Key, "--email", "ada@example.com")
	assert.ErrorIs(t, err, service.ErrInactive)

	out, err = execute(t, "--data-dir", dir, "license", "list", "--active")
	require.NoError(t, err)
	assert.Contains(t, out, "No licenses found")
}

func TestLicenseExportImport(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()

	out, err := execute(t, "--data-dir", src, "license", "issue", "--email", "bob@example.com", "--json")
	require.NoError(t, err)
	var lic model.License
	require.NoError(t, json.Unmarshal([]byte(out), &lic))

	file := filepath.Join(t.TempDir(), "license.json")
	_, err = execute(t, "--data-dir", src, "license", "export", lic.Key, "-o", file)
	require.NoError(t, err)

	out, err = execute(t, "--data-dir", dst, "license", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, lic.Key)

	out, err = execute(t, "--data-dir", dst, "license", "info", lic.Key, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"email": "bob@example.com"`)
}

func TestLicenseIssueRequiresEmail(t *testing.T) {
	_, err := execute(t, "--data-dir", t.TempDir(), "license", "issue")
	assert.EqualError(t, err, "--email is required")
}

func TestKeyCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--data-dir", dir, "key", "create", "--service", "pdf-tools", "--json")
	require.NoError(t, err)
	var created struct {
		APIKey  string       `json:"api_key"`
		KeyData model.APIKey `json:"key_data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created.APIKey)

	out, err = execute(t, "--data-dir", dir, "key", "verify", created.APIKey)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:   1")

	out, err = execute(t, "--data-dir", dir, "key", "usage", created.APIKey)
	require.NoError(t, err)
	assert.Contains(t, out, "pdf-tools")

	out, err = execute(t, "--data-dir", dir, "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, created.KeyData.KeyPrefix)

	_, err = execute(t, "--data-dir", dir, "key", "revoke", created.APIKey)
	require.NoError(t, err)
	_, err = execute(t, "--data-dir", dir, "key", "verify", created.APIKey)
	assert.ErrorIs(t, err, service.ErrInactive)
}

func TestGateCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--data-dir", dir, "gate", "check", "--kind", "pdf", "--count", "6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")

	out, err := execute(t, "--data-dir", dir, "gate", "limits")
	require.NoError(t, err)
	assert.Contains(t, out, "free tier")

	_, err = execute(t, "--data-dir", dir, "license", "issue", "--email", "ada@example.com")
	require.NoError(t, err)

	out, err = execute(t, "--data-dir", dir, "gate", "check", "--kind", "pdf", "--count", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "Allowed")

	out, err = execute(t, "--data-dir", dir, "gate", "limits", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "unlimited")
}

func TestStatsAndReport(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--data-dir", dir, "license", "issue", "--email", "ada@example.com")
	require.NoError(t, err)

	out, err := execute(t, "--data-dir", dir, "stats", "--json")
	require.NoError(t, err)
	var st model.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Licenses.Total)

	path := filepath.Join(dir, "report.xlsx")
	_, err = execute(t, "--data-dir", dir, "report", "-o", path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("KEYGATE_AUTH_JWT_SECRET", "test-secret")

	out, err := execute(t, "--data-dir", t.TempDir(), "token", "--subject", "ci")
	require.NoError(t, err)

	auth := service.NewAuthService(nil, "", "test-secret")
	admin, err := auth.ValidateJWT(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.NotNil(t, admin)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--data-dir", dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "config.yaml"))

	_, err = execute(t, "--data-dir", dir, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	t.Setenv("KEYGATE_AUTH_ADMIN_KEY", "hunter2")
	out, err = execute(t, "--data-dir", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "server.port: 8000")
	assert.Contains(t, out, "auth.admin_key: ********")
	assert.NotContains(t, out, "hunter2")
}

func TestClientOffline(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--data-dir", dir, "client", "--mode", "offline", "generate", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "(local)")
	assert.Contains(t, out, "Offline:  yes")

	out, err = execute(t, "--data-dir", dir, "client", "--mode", "offline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")

	_, err = execute(t, "--data-dir", dir, "client", "--mode", "offline", "verify", "nope", "--email", "ada@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Contains(t, err.Error(), "License not found")

	_, err = execute(t, "--data-dir", dir, "client", "--mode", "sideways", "list")
	assert.ErrorContains(t, err, "unknown client mode")
}

func TestOpenAPIAndVersion(t *testing.T) {
	out, err := execute(t, "openapi", "--base-url", "https://licenses.example.com")
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "paths")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"commit": "abc123"`)
}
