package config

import (
	"fmt"
	"strings"
)

// schema holds the DDL per SQL dialect. Statements are idempotent so migrate
// can run on every start.
var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS licenses (
			license_key TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			license_type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used DATETIME,
			offline INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(email)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			key_hash TEXT PRIMARY KEY,
			key_prefix TEXT NOT NULL,
			service TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	},

	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS licenses (
			license_key TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			license_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMPTZ,
			offline BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(email)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			key_hash TEXT PRIMARY KEY,
			key_prefix TEXT NOT NULL,
			service TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	},

	// MySQL has no CREATE INDEX IF NOT EXISTS, so the index is declared inline.
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS licenses (
			license_key VARCHAR(64) PRIMARY KEY,
			email VARCHAR(320) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			license_type VARCHAR(64) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used DATETIME(6) NULL,
			offline BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_licenses_email (email)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			key_hash CHAR(64) PRIMARY KEY,
			key_prefix VARCHAR(16) NOT NULL,
			service VARCHAR(255) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used DATETIME(6) NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			name VARCHAR(191) PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
}

func (s *Store) migrate() error {
	migrations, ok := schema[s.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driver)
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Column additions on older databases fail once applied;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
