package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
)

// APIKeyService manages API keys for services. Keys are stored by SHA-256
// hash; the raw key is only ever returned by Issue.
type APIKeyService struct {
	store APIKeyStore
	opts  Options
}

func NewAPIKeyService(store APIKeyStore, opts Options) *APIKeyService {
	return &APIKeyService{store: store, opts: opts.withDefaults()}
}

// Issue creates an active key for service and returns the raw key with its
// record.
func (s *APIKeyService) Issue(ctx context.Context, service string) (string, *model.APIKey, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return "", nil, fmt.Errorf("%w: service is required", ErrInvalidInput)
	}

	rec := &model.APIKey{
		Service:   service,
		CreatedAt: s.opts.now(),
		IsActive:  true,
	}
	var raw string
	for attempt := 0; ; attempt++ {
		var err error
		raw, err = s.opts.Keys.APIKey(service)
		if err != nil {
			return "", nil, fmt.Errorf("generate api key: %w", err)
		}
		rec.KeyHash = config.HashAPIKey(raw)
		rec.KeyPrefix = prefix(raw)
		err = s.store.CreateAPIKey(ctx, rec)
		if errors.Is(err, config.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return "", nil, storeErr("create api key", err)
		}
		break
	}

	s.opts.Logger.Info("api key issued", "key_prefix", rec.KeyPrefix, "service", service)
	return raw, rec, nil
}

// Verify checks an API key and, when it is active, counts the use.
func (s *APIKeyService) Verify(ctx context.Context, raw string) (*model.APIKey, error) {
	hash := config.HashAPIKey(raw)
	rec, err := s.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, storeErr("get api key", err)
	}
	if !rec.IsActive {
		s.opts.Logger.Debug("api key verification failed", "key_prefix", rec.KeyPrefix, "error", ErrInactive)
		return nil, ErrInactive
	}
	touched, err := s.store.TouchAPIKey(ctx, hash, s.opts.now())
	if err != nil {
		return nil, storeErr("record api key usage", err)
	}
	return touched, nil
}

// Revoke deactivates an API key. Revoking twice succeeds.
func (s *APIKeyService) Revoke(ctx context.Context, raw string) error {
	if err := s.store.RevokeAPIKey(ctx, config.HashAPIKey(raw)); err != nil {
		return storeErr("revoke api key", err)
	}
	s.opts.Logger.Info("api key revoked", "key_prefix", prefix(raw))
	return nil
}

// Usage returns the stored record without counting a use.
func (s *APIKeyService) Usage(ctx context.Context, raw string) (*model.APIKey, error) {
	rec, err := s.store.GetAPIKeyByHash(ctx, config.HashAPIKey(raw))
	if err != nil {
		return nil, storeErr("get api key", err)
	}
	return rec, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, storeErr("list api keys", err)
	}
	return keys, nil
}
