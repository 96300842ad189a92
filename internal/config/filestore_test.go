package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileStoreMalformedTreatedAsEmpty(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(s.Dir(), LicensesFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListLicenses(ctx, LicenseFilter{})
	if err != nil {
		t.Fatalf("ListLicenses: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d licenses from malformed file, want 0", len(list))
	}

	// The next write replaces the malformed document.
	if err := s.CreateLicense(ctx, testLicense("KEY1", "alice@example.com")); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	if _, err := s.GetLicense(ctx, "KEY1"); err != nil {
		t.Errorf("GetLicense: %v", err)
	}
}

func TestFileStoreReadsLegacyLicenses(t *testing.T) {
	s := newTestFileStore(t)
	doc := `{
  "ABCDEF0123456789ABCDEF0123456789": {
    "license_key": "ABCDEF0123456789ABCDEF0123456789",
    "email": "alice@example.com",
    "name": "Alice",
    "license_type": "pro",
    "created_at": "2024-05-01T10:00:00.123456",
    "expires_at": "2025-05-01T10:00:00.123456",
    "is_active": true,
    "usage_count": 3,
    "last_used": "2024-06-01T08:00:00"
  }
}`
	if err := os.WriteFile(filepath.Join(s.Dir(), LicensesFile), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLicense(context.Background(), "ABCDEF0123456789ABCDEF0123456789")
	if err != nil {
		t.Fatalf("GetLicense: %v", err)
	}
	if got.UsageCount != 3 || got.LastUsed == nil {
		t.Errorf("got %+v", got)
	}
	want := time.Date(2025, 5, 1, 10, 0, 0, 123456000, time.Local)
	if !got.ExpiresAt.Equal(want) {
		t.Errorf("got expires_at %v, want %v", got.ExpiresAt, want)
	}
}

func TestFileStoreMigratesRawAPIKeys(t *testing.T) {
	s := newTestFileStore(t)
	raw := "0123456789abcdef01234567"
	doc := `{"` + raw + `": {"api_key": "` + raw + `", "service": "billing",
		"created_at": "2024-05-01T10:00:00", "is_active": true, "usage_count": 4, "last_used": null}}`
	if err := os.WriteFile(filepath.Join(s.Dir(), APIKeysFile), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	got, err := s.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.Service != "billing" || got.UsageCount != 4 || got.KeyPrefix != "01234567" {
		t.Errorf("got %+v", got)
	}

	// A write persists the hashed form and drops the raw key.
	if _, err := s.TouchAPIKey(ctx, HashAPIKey(raw), time.Now()); err != nil {
		t.Fatalf("TouchAPIKey: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(s.Dir(), APIKeysFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), `"api_key"`) {
		t.Errorf("raw key still present after rewrite: %s", b)
	}
	var m map[string]map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("rewritten file is not valid JSON: %v", err)
	}
	rec, ok := m[HashAPIKey(raw)]
	if !ok || rec["key_hash"] != HashAPIKey(raw) {
		t.Errorf("record not keyed by hash: %s", b)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	for _, k := range []string{"A", "B", "C"} {
		if err := s.CreateLicense(ctx, testLicense(k, "alice@example.com")); err != nil {
			t.Fatalf("CreateLicense: %v", err)
		}
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreWriteFailurePropagates(t *testing.T) {
	s := newTestFileStore(t)
	// A directory where the document should be makes the rename fail.
	if err := os.Mkdir(filepath.Join(s.Dir(), LicensesFile), 0755); err != nil {
		t.Fatal(err)
	}
	err := s.CreateLicense(context.Background(), testLicense("KEY1", "alice@example.com"))
	if err == nil || errors.Is(err, ErrConflict) {
		t.Errorf("CreateLicense = %v, want write error", err)
	}
}

func TestFileStoreConcurrentWritesSerialized(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for _, key := range []string{"KEYA", "KEYB"} {
		if err := s.CreateLicense(ctx, testLicense(key, "alice@example.com")); err != nil {
			t.Fatalf("CreateLicense: %v", err)
		}
	}
	apiKey := testAPIKey("kg_concurrent_key", "pdf-tools")
	if err := s.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	// Touches on both documents race with inserts; every write goes through
	// the same reload-mutate-write cycle, so none may be lost.
	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 4*n)
	for i := 0; i < n; i++ {
		wg.Add(4)
		go func() {
			defer wg.Done()
			if _, err := s.TouchLicense(ctx, "KEYA", testNow); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.TouchLicense(ctx, "KEYB", testNow); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.TouchAPIKey(ctx, apiKey.KeyHash, testNow); err != nil {
				errs <- err
			}
		}()
		go func(i int) {
			defer wg.Done()
			if err := s.CreateLicense(ctx, testLicense(fmt.Sprintf("NEW%03d", i), "bob@example.com")); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v", err)
	}

	// A fresh store reads what reached disk.
	reopened, err := NewFileStore(s.Dir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"KEYA", "KEYB"} {
		got, err := reopened.GetLicense(ctx, key)
		if err != nil {
			t.Fatalf("GetLicense(%s): %v", key, err)
		}
		if got.UsageCount != n {
			t.Errorf("%s usage = %d, want %d", key, got.UsageCount, n)
		}
	}
	gotKey, err := reopened.GetAPIKeyByHash(ctx, apiKey.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if gotKey.UsageCount != n {
		t.Errorf("api key usage = %d, want %d", gotKey.UsageCount, n)
	}
	bobs, err := reopened.ListLicenses(ctx, LicenseFilter{Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("ListLicenses: %v", err)
	}
	if len(bobs) != n {
		t.Errorf("got %d inserted licenses, want %d", len(bobs), n)
	}
}
