package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keygate configuration file. Keys match
// the viper keys read by the CLI (server.port, store.driver, ...).
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	License   LicenseConfig   `yaml:"license"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Client    ClientConfig    `yaml:"client"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LoggingConfig   `yaml:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	MaxBodySize     int64    `yaml:"max_body_size"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// StoreConfig selects the key store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql or file
	DSN    string `yaml:"dsn"`
}

// LicenseConfig controls issuance defaults.
type LicenseConfig struct {
	ValidityDays int    `yaml:"validity_days"`
	DefaultType  string `yaml:"default_type"`
}

// AuthConfig controls admin authentication on mutating routes.
type AuthConfig struct {
	Required  bool   `yaml:"required"`
	JWTSecret string `yaml:"jwt_secret"`
	AdminKey  string `yaml:"admin_key"`
}

// RateLimitConfig caps verification requests per client IP.
type RateLimitConfig struct {
	VerifyPerMinute int `yaml:"verify_per_minute"`
}

// ClientConfig configures the embedded manager's remote service.
type ClientConfig struct {
	APIURL  string `yaml:"api_url"`
	Mode    string `yaml:"mode"` // offline, online or auto
	Timeout string `yaml:"timeout"`
	Token   string `yaml:"token"`
}

// TelemetryConfig controls the anonymous heartbeat.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxBodySize:     1 << 20,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		License: LicenseConfig{
			ValidityDays: 365,
			DefaultType:  "pro",
		},
		RateLimit: RateLimitConfig{
			VerifyPerMinute: 120,
		},
		Client: ClientConfig{
			APIURL:  "http://localhost:8000",
			Mode:    "auto",
			Timeout: "10s",
		},
		Log: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	header := []byte("# keygate configuration\n# Every key can be overridden with KEYGATE_<SECTION>_<KEY>, e.g. KEYGATE_STORE_DRIVER.\n\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
