package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/client"
	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYGATE_DATA_DIR env var, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// newLogger builds the process logger from --log-format, --verbose and the
// log.* settings. Logs always go to stderr so stdout stays parseable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	format := logFormat
	if format == "" {
		format = viper.GetString("log.format")
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// storeConfig returns the configured key store backend.
func storeConfig() config.StoreConfig {
	return config.StoreConfig{
		Driver: viper.GetString("store.driver"),
		DSN:    viper.GetString("store.dsn"),
	}
}

// openStore opens the configured key store.
func openStore(logger *slog.Logger) (config.Backend, error) {
	store, err := config.Open(storeConfig(), resolveDataDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return store, nil
}

// serviceOptions returns issuance settings from license.*.
func serviceOptions(logger *slog.Logger) service.Options {
	return service.Options{
		Validity:    time.Duration(viper.GetInt("license.validity_days")) * 24 * time.Hour,
		DefaultType: viper.GetString("license.default_type"),
		Logger:      logger,
	}
}

// newRemoteClient builds an API client from client.* settings. apiURL
// overrides client.api_url when set.
func newRemoteClient(apiURL string) *client.Client {
	if apiURL == "" {
		apiURL = viper.GetString("client.api_url")
	}
	opts := []client.Option{}
	if d := viper.GetDuration("client.timeout"); d > 0 {
		opts = append(opts, client.WithTimeout(d))
	}
	if key := viper.GetString("auth.admin_key"); key != "" {
		opts = append(opts, client.WithAdminKey(key))
	}
	if tok := viper.GetString("client.token"); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	return client.New(apiURL, opts...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printLicense writes a license as aligned key/value lines.
func printLicense(w io.Writer, lic *model.License) {
	fmt.Fprintf(w, "  Key:      %s\n", lic.Key)
	fmt.Fprintf(w, "  Email:    %s\n", lic.Email)
	if lic.Name != "" {
		fmt.Fprintf(w, "  Name:     %s\n", lic.Name)
	}
	fmt.Fprintf(w, "  Type:     %s\n", lic.Type)
	fmt.Fprintf(w, "  Created:  %s\n", formatTime(lic.CreatedAt))
	fmt.Fprintf(w, "  Expires:  %s\n", formatTime(lic.ExpiresAt))
	fmt.Fprintf(w, "  Active:   %s\n", yesNo(lic.IsActive))
	fmt.Fprintf(w, "  Usage:    %d\n", lic.UsageCount)
	if lic.LastUsed != nil {
		fmt.Fprintf(w, "  Last use: %s\n", formatTime(*lic.LastUsed))
	}
	if lic.Offline {
		fmt.Fprintln(w, "  Offline:  yes")
	}
}

func printLimits(w io.Writer, email string, l model.Limits) {
	who := email
	if who == "" {
		who = "(any owner)"
	}
	fmt.Fprintf(w, "Limits for %s: %s tier\n", who, l.Tier)
	fmt.Fprintf(w, "  PDF files:    %s\n", capString(l.MaxPDFFiles))
	fmt.Fprintf(w, "  Batch size:   %s\n", capString(l.MaxBatchSize))
	fmt.Fprintf(w, "  Images:       %s\n", capString(l.MaxImages))
	fmt.Fprintf(w, "  Pro features: %s\n", yesNo(l.ProFeatures))
}

func capString(n int) string {
	if n == model.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// requireFlag fails when a string flag was left empty.
func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
