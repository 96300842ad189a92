package service

import (
	"context"
	"time"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
)

// LicenseStore is what the license service and gate need from a backend.
// config.Store and config.FileStore both satisfy it.
type LicenseStore interface {
	CreateLicense(ctx context.Context, lic *model.License) error
	PutLicense(ctx context.Context, lic *model.License) error
	GetLicense(ctx context.Context, key string) (*model.License, error)
	ListLicenses(ctx context.Context, f config.LicenseFilter) ([]model.License, error)
	TouchLicense(ctx context.Context, key string, at time.Time) (*model.License, error)
	RevokeLicense(ctx context.Context, key string) error
}

// APIKeyStore is what the API-key service needs from a backend.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	TouchAPIKey(ctx context.Context, hash string, at time.Time) (*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, hash string) error
}
