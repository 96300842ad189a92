package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/service"
)

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyPinger fails Ping when down is set.
type flakyPinger struct {
	down bool
}

func (p *flakyPinger) Ping(ctx context.Context) error {
	if p.down {
		return errors.New("database is down")
	}
	return nil
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	clock    *testClock
	pinger   *flakyPinger
	licenses *service.LicenseService
	keys     *service.APIKeyService
	metrics  *metrics.Metrics
	router   chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// Chi router with every handler mounted (no auth middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := &testClock{t: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
	opts := service.Options{Now: clk.Now}
	licenses := service.NewLicenseService(store, opts)
	keys := service.NewAPIKeyService(store, opts)
	gate := service.NewGate(store, clk.Now)
	m := metrics.New()
	pinger := &flakyPinger{}

	lh := NewLicenseHandler(licenses, m)
	kh := NewAPIKeyHandler(keys, m)
	sh := NewSystemHandler(store, pinger, gate, m, "test")
	sh.now = clk.Now

	r := chi.NewRouter()
	r.Get("/", sh.Root)
	r.Get("/health", sh.Health)
	r.Get("/stats", sh.Stats)
	r.Get("/limits", sh.Limits)
	r.Post("/generate-license", lh.Generate)
	r.Post("/verify-license", lh.Verify)
	r.Get("/license-info/{key}", lh.Info)
	r.Post("/revoke-license", lh.Revoke)
	r.Post("/generate-api-key", kh.Generate)
	r.Post("/verify-api-key", kh.Verify)
	r.Get("/api-usage/{key}", kh.Usage)
	r.Post("/revoke-api-key", kh.Revoke)

	return &testEnv{
		store:    store,
		clock:    clk,
		pinger:   pinger,
		licenses: licenses,
		keys:     keys,
		metrics:  m,
		router:   r,
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// issueLicense creates a license through the API and returns its key.
func (e *testEnv) issueLicense(t *testing.T, email, tier string) string {
	t.Helper()
	rr := e.do(t, "POST", "/generate-license", toJSON(t, map[string]string{
		"email": email, "name": "Test User", "license_type": tier,
	}))
	assertStatus(t, rr, 200)
	var resp struct {
		LicenseKey string `json:"license_key"`
	}
	decodeJSON(t, rr, &resp)
	if resp.LicenseKey == "" {
		t.Fatal("issueLicense: empty license_key")
	}
	return resp.LicenseKey
}

// issueAPIKey creates an API key through the API and returns the raw key.
func (e *testEnv) issueAPIKey(t *testing.T, svc string) string {
	t.Helper()
	rr := e.do(t, "POST", "/generate-api-key", toJSON(t, map[string]string{"service": svc}))
	assertStatus(t, rr, 200)
	var resp struct {
		APIKey string `json:"api_key"`
	}
	decodeJSON(t, rr, &resp)
	if resp.APIKey == "" {
		t.Fatal("issueAPIKey: empty api_key")
	}
	return resp.APIKey
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// errorBody is the decoded error envelope.
type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Context map[string]interface{} `json:"context"`
	} `json:"error"`
}

// assertReason checks status and the envelope's context.reason.
func assertReason(t *testing.T, rr *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	assertStatus(t, rr, status)
	var body errorBody
	decodeJSON(t, rr, &body)
	if body.Success {
		t.Error("success = true in error response")
	}
	if body.Error.Code != status {
		t.Errorf("error.code = %d, want %d", body.Error.Code, status)
	}
	if got := body.Error.Context["reason"]; got != reason {
		t.Errorf("reason = %v, want %q", got, reason)
	}
}
