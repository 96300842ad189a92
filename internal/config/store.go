package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/toolboxhq/keygate/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverFile     = "file"
)

// sqlDriverNames maps store drivers to database/sql driver names.
var sqlDriverNames = map[string]string{
	DriverSQLite:   "sqlite",
	DriverPostgres: "pgx",
	DriverMySQL:    "mysql",
}

// Store persists licenses, API keys and settings in a SQL database. Usage
// counters are updated in place, so concurrent verifications never lose
// increments.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a SQLite-backed store in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return OpenSQL(DriverSQLite, dsn)
}

// OpenSQL connects to a SQL store using one of the Driver constants and runs
// migrations.
func OpenSQL(driver, dsn string) (*Store, error) {
	name, ok := sqlDriverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("store driver %q requires a dsn", driver)
	}
	if driver == DriverMySQL {
		dsn = withMySQLParseTime(dsn)
	}

	db, err := sqlx.Connect(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return s, nil
}

// withMySQLParseTime makes the MySQL driver scan DATETIME columns into
// time.Time values in UTC.
func withMySQLParseTime(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	cfg.ParseTime = true
	if cfg.Loc == nil || cfg.Loc == time.Local {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN()
}

// Driver returns the store driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

// LicenseFilter narrows ListLicenses. Zero value lists everything.
type LicenseFilter struct {
	Email      string
	ActiveOnly bool
}

func (f LicenseFilter) match(l *model.License) bool {
	if f.Email != "" && l.Email != f.Email {
		return false
	}
	if f.ActiveOnly && !l.IsActive {
		return false
	}
	return true
}

const licenseColumns = `license_key, email, name, license_type, created_at,
	expires_at, is_active, usage_count, last_used, offline`

const insertLicense = `INSERT INTO licenses (` + licenseColumns + `)
	VALUES (:license_key, :email, :name, :license_type, :created_at,
	:expires_at, :is_active, :usage_count, :last_used, :offline)`

// CreateLicense inserts a new license. A key that already exists yields
// ErrConflict.
func (s *Store) CreateLicense(ctx context.Context, lic *model.License) error {
	if err := lic.Validate(); err != nil {
		return err
	}
	row := utcLicense(*lic)
	if _, err := s.db.NamedExecContext(ctx, insertLicense, &row); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// PutLicense inserts or replaces a license wholesale. Used for imports.
func (s *Store) PutLicense(ctx context.Context, lic *model.License) error {
	if err := lic.Validate(); err != nil {
		return err
	}
	row := utcLicense(*lic)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put license: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind("DELETE FROM licenses WHERE license_key = ?"), row.Key); err != nil {
		return fmt.Errorf("replace license: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, insertLicense, &row); err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put license: %w", err)
	}
	return nil
}

// GetLicense returns a license by key.
func (s *Store) GetLicense(ctx context.Context, key string) (*model.License, error) {
	return getLicense(ctx, s.db, s.db.Rebind("SELECT "+licenseColumns+" FROM licenses WHERE license_key = ?"), key)
}

func getLicense(ctx context.Context, q sqlx.QueryerContext, query, key string) (*model.License, error) {
	var lic model.License
	if err := sqlx.GetContext(ctx, q, &lic, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	lic = utcLicense(lic)
	return &lic, nil
}

// ListLicenses returns licenses ordered newest first.
func (s *Store) ListLicenses(ctx context.Context, f LicenseFilter) ([]model.License, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Email != "" {
		where = append(where, "email = ?")
		args = append(args, f.Email)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	q := "SELECT " + licenseColumns + " FROM licenses"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, license_key"

	var lics []model.License
	if err := s.db.SelectContext(ctx, &lics, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	for i := range lics {
		lics[i] = utcLicense(lics[i])
	}
	return lics, nil
}

// TouchLicense records one successful verification: usage_count is
// incremented and last_used stamped in a single transaction. Revoked
// licenses are not touched and yield ErrInactive.
func (s *Store) TouchLicense(ctx context.Context, key string, at time.Time) (*model.License, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin touch license: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE licenses SET usage_count = usage_count + 1, last_used = ?
		WHERE license_key = ? AND is_active = ?`), at.UTC(), key, true)
	if err != nil {
		return nil, fmt.Errorf("touch license: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("touch license rows affected: %w", err)
	}

	lic, err := getLicense(ctx, tx, s.db.Rebind("SELECT "+licenseColumns+" FROM licenses WHERE license_key = ?"), key)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrInactive
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit touch license: %w", err)
	}
	return lic, nil
}

// RevokeLicense marks a license inactive. Revoking an already revoked
// license succeeds.
func (s *Store) RevokeLicense(ctx context.Context, key string) error {
	return s.revoke(ctx, "licenses", "license_key", key)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const apiKeyColumns = `key_hash, key_prefix, service, created_at, is_active, usage_count, last_used`

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// (use HashAPIKey).
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	row := utcAPIKey(*key)

	const q = `INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (:key_hash, :key_prefix, :service, :created_at, :is_active, :usage_count, :last_used)`

	if _, err := s.db.NamedExecContext(ctx, q, &row); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return getAPIKey(ctx, s.db, s.db.Rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = ?"), hash)
}

func getAPIKey(ctx context.Context, q sqlx.QueryerContext, query, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := sqlx.GetContext(ctx, q, &key, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	key = utcAPIKey(key)
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC, key_hash"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	for i := range keys {
		keys[i] = utcAPIKey(keys[i])
	}
	return keys, nil
}

// TouchAPIKey increments usage_count and sets last_used for an active key.
func (s *Store) TouchAPIKey(ctx context.Context, hash string, at time.Time) (*model.APIKey, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin touch api key: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used = ?
		WHERE key_hash = ? AND is_active = ?`), at.UTC(), hash, true)
	if err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("touch api key rows affected: %w", err)
	}

	key, err := getAPIKey(ctx, tx, s.db.Rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = ?"), hash)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrInactive
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit touch api key: %w", err)
	}
	return key, nil
}

// RevokeAPIKey marks an API key as inactive by hash. Idempotent.
func (s *Store) RevokeAPIKey(ctx context.Context, hash string) error {
	return s.revoke(ctx, "api_keys", "key_hash", hash)
}

// revoke flips is_active to false. MySQL reports zero affected rows when the
// value is unchanged, so a miss is confirmed with a lookup before reporting
// ErrNotFound.
func (s *Store) revoke(ctx context.Context, table, column, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE "+table+" SET is_active = ? WHERE "+column+" = ?"), false, id)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke %s rows affected: %w", table, err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(
		"SELECT COUNT(*) FROM "+table+" WHERE "+column+" = ?"), id); err != nil {
		return fmt.Errorf("revoke %s lookup: %w", table, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns a stored setting value.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, s.db.Rebind("SELECT value FROM settings WHERE name = ?"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting creates or replaces a setting value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	q := `INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	if s.driver == DriverMySQL {
		q = `INSERT INTO settings (name, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), name, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure for any supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// primary result code SQLITE_CONSTRAINT; inputs are validated before
		// insert so only key collisions reach here.
		return sqliteErr.Code()&0xff == 19
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

func utcLicense(l model.License) model.License {
	l.CreatedAt = l.CreatedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	if l.LastUsed != nil {
		t := l.LastUsed.UTC()
		l.LastUsed = &t
	}
	return l
}

func utcAPIKey(k model.APIKey) model.APIKey {
	k.CreatedAt = k.CreatedAt.UTC()
	if k.LastUsed != nil {
		t := k.LastUsed.UTC()
		k.LastUsed = &t
	}
	return k
}
