package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/toolboxhq/keygate/internal/model"
)

// File names used by FileStore inside its directory.
const (
	LicensesFile = "licenses.json"
	APIKeysFile  = "api_keys.json"
)

// FileStore keeps licenses and API keys as two flat key -> record JSON
// documents. Every operation holds the store mutex, reloads the document,
// mutates it and writes it back through a temp file and rename, so a crash
// never leaves a half-written document behind.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// apiKeyRecord is the on-disk shape of an API key: the model plus its hash,
// which the model never serializes.
type apiKeyRecord struct {
	model.APIKey
	KeyHash string `json:"key_hash"`
}

// apiKeyIDs picks the identifying fields out of a stored record. Older files
// keyed the document by the raw key and carried it as "api_key"; those are
// hashed on load.
type apiKeyIDs struct {
	KeyHash string `json:"key_hash"`
	RawKey  string `json:"api_key"`
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory holding the JSON documents.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error { return nil }

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

func (s *FileStore) CreateLicense(ctx context.Context, lic *model.License) error {
	if err := lic.Validate(); err != nil {
		return err
	}
	return s.updateLicenses(func(m map[string]model.License) error {
		if _, ok := m[lic.Key]; ok {
			return ErrConflict
		}
		m[lic.Key] = utcLicense(*lic)
		return nil
	})
}

func (s *FileStore) PutLicense(ctx context.Context, lic *model.License) error {
	if err := lic.Validate(); err != nil {
		return err
	}
	return s.updateLicenses(func(m map[string]model.License) error {
		m[lic.Key] = utcLicense(*lic)
		return nil
	})
}

func (s *FileStore) GetLicense(ctx context.Context, key string) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLicenses()
	lic, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &lic, nil
}

func (s *FileStore) ListLicenses(ctx context.Context, f LicenseFilter) ([]model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.License
	for _, lic := range s.loadLicenses() {
		if f.match(&lic) {
			out = append(out, lic)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *FileStore) TouchLicense(ctx context.Context, key string, at time.Time) (*model.License, error) {
	var touched model.License
	err := s.updateLicenses(func(m map[string]model.License) error {
		lic, ok := m[key]
		if !ok {
			return ErrNotFound
		}
		if !lic.IsActive {
			return ErrInactive
		}
		lic.UsageCount++
		used := at.UTC()
		lic.LastUsed = &used
		m[key] = lic
		touched = lic
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &touched, nil
}

func (s *FileStore) RevokeLicense(ctx context.Context, key string) error {
	return s.updateLicenses(func(m map[string]model.License) error {
		lic, ok := m[key]
		if !ok {
			return ErrNotFound
		}
		lic.IsActive = false
		m[key] = lic
		return nil
	})
}

func (s *FileStore) updateLicenses(fn func(map[string]model.License) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLicenses()
	if err := fn(m); err != nil {
		return err
	}
	return s.write(LicensesFile, m)
}

func (s *FileStore) loadLicenses() map[string]model.License {
	m := make(map[string]model.License)
	if !s.read(LicensesFile, &m) {
		return make(map[string]model.License)
	}
	for k, lic := range m {
		if lic.Key == "" {
			lic.Key = k
		}
		m[k] = lic
	}
	return m
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func (s *FileStore) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.updateAPIKeys(func(m map[string]model.APIKey) error {
		if _, ok := m[key.KeyHash]; ok {
			return ErrConflict
		}
		m[key.KeyHash] = utcAPIKey(*key)
		return nil
	})
}

func (s *FileStore) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.loadAPIKeys()[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (s *FileStore) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.APIKey
	for _, k := range s.loadAPIKeys() {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].KeyHash < out[j].KeyHash
	})
	return out, nil
}

func (s *FileStore) TouchAPIKey(ctx context.Context, hash string, at time.Time) (*model.APIKey, error) {
	var touched model.APIKey
	err := s.updateAPIKeys(func(m map[string]model.APIKey) error {
		k, ok := m[hash]
		if !ok {
			return ErrNotFound
		}
		if !k.IsActive {
			return ErrInactive
		}
		k.UsageCount++
		used := at.UTC()
		k.LastUsed = &used
		m[hash] = k
		touched = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &touched, nil
}

func (s *FileStore) RevokeAPIKey(ctx context.Context, hash string) error {
	return s.updateAPIKeys(func(m map[string]model.APIKey) error {
		k, ok := m[hash]
		if !ok {
			return ErrNotFound
		}
		k.IsActive = false
		m[hash] = k
		return nil
	})
}

func (s *FileStore) updateAPIKeys(fn func(map[string]model.APIKey) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadAPIKeys()
	if err := fn(m); err != nil {
		return err
	}
	out := make(map[string]apiKeyRecord, len(m))
	for hash, k := range m {
		out[hash] = apiKeyRecord{APIKey: k, KeyHash: hash}
	}
	return s.write(APIKeysFile, out)
}

// loadAPIKeys returns keys indexed by hash.
func (s *FileStore) loadAPIKeys() map[string]model.APIKey {
	raw := make(map[string]json.RawMessage)
	m := make(map[string]model.APIKey)
	if !s.read(APIKeysFile, &raw) {
		return m
	}
	for docKey, msg := range raw {
		var (
			k   model.APIKey
			ids apiKeyIDs
		)
		if err := json.Unmarshal(msg, &k); err != nil {
			s.logger.Warn("skipping malformed api key record", "error", err)
			continue
		}
		if err := json.Unmarshal(msg, &ids); err != nil {
			continue
		}
		switch {
		case ids.KeyHash != "":
			k.KeyHash = ids.KeyHash
		case ids.RawKey != "":
			k.KeyHash = HashAPIKey(ids.RawKey)
			k.KeyPrefix = prefixOf(ids.RawKey)
		default:
			k.KeyHash = HashAPIKey(docKey)
			k.KeyPrefix = prefixOf(docKey)
		}
		m[k.KeyHash] = k
	}
	return m
}

// ---------------------------------------------------------------------------
// File I/O
// ---------------------------------------------------------------------------

// read decodes name into v. A missing file is an empty store; a malformed
// one is logged and also treated as empty.
func (s *FileStore) read(name string, v interface{}) bool {
	path := filepath.Join(s.dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read key store failed, treating as empty", "path", path, "error", err)
		}
		return false
	}
	if len(b) == 0 {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.logger.Warn("malformed key store, treating as empty", "path", path, "error", err)
		return false
	}
	return true
}

func (s *FileStore) write(name string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// prefixOf returns the identifying prefix stored alongside a key hash.
func prefixOf(raw string) string {
	if len(raw) <= 8 {
		return raw
	}
	return raw[:8]
}
