package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndLoadDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("got port %d, want 8000", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("got driver %q, want %q", cfg.Store.Driver, DriverSQLite)
	}
	if cfg.License.ValidityDays != 365 {
		t.Errorf("got validity %d, want 365", cfg.License.ValidityDays)
	}
}

func TestLoadYAMLConfigExpandsEnv(t *testing.T) {
	t.Setenv("KEYGATE_TEST_DSN", "postgres://localhost/keygate")
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "store:\n  driver: postgres\n  dsn: ${KEYGATE_TEST_DSN}\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Store.DSN != "postgres://localhost/keygate" {
		t.Errorf("got dsn %q", cfg.Store.DSN)
	}
	// Unset sections keep their defaults.
	if cfg.Client.Mode != "auto" {
		t.Errorf("got client mode %q, want auto", cfg.Client.Mode)
	}
}
