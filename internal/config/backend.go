package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolboxhq/keygate/internal/model"
)

// Backend is the operation set shared by Store and FileStore.
type Backend interface {
	CreateLicense(ctx context.Context, lic *model.License) error
	PutLicense(ctx context.Context, lic *model.License) error
	GetLicense(ctx context.Context, key string) (*model.License, error)
	ListLicenses(ctx context.Context, f LicenseFilter) ([]model.License, error)
	TouchLicense(ctx context.Context, key string, at time.Time) (*model.License, error)
	RevokeLicense(ctx context.Context, key string) error

	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	TouchAPIKey(ctx context.Context, hash string, at time.Time) (*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, hash string) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FileStore)(nil)
)

// Open returns the backend selected by cfg. SQLite with no DSN and the file
// driver both live in dataDir.
func Open(cfg StoreConfig, dataDir string, logger *slog.Logger) (Backend, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		if cfg.DSN != "" {
			return OpenSQL(DriverSQLite, cfg.DSN)
		}
		return NewStore(dataDir)
	case DriverPostgres, DriverMySQL:
		return OpenSQL(cfg.Driver, cfg.DSN)
	case DriverFile:
		dir := cfg.DSN
		if dir == "" {
			dir = dataDir
		}
		return NewFileStore(dir, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
