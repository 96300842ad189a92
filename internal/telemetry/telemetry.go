package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	envVar        = "KEYGATE_TELEMETRY"
	flushInterval = 1 * time.Hour
	httpTimeout   = 3 * time.Second
)

// SettingsStore is the interface the telemetry package needs from the config store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Config enables the usage ping. Telemetry is opt-in: nothing is sent unless
// Enabled is set and Endpoint is non-empty.
type Config struct {
	Enabled  bool
	Endpoint string
}

// Properties holds the anonymous usage payload.
type Properties struct {
	Version        string   `json:"version"`
	GoVersion      string   `json:"go_version"`
	OS             string   `json:"os"`
	Arch           string   `json:"arch"`
	StoreDriver    string   `json:"store_driver"`
	Licenses       int      `json:"license_count"`
	ActiveLicenses int      `json:"active_license_count"`
	APIKeys        int      `json:"api_key_count"`
	Features       []string `json:"features"`
	UptimeHrs      float64  `json:"uptime_hours"`
}

// PropertiesFunc is called each flush to gather current state.
type PropertiesFunc func() Properties

// Tracker sends an hourly anonymous heartbeat to the configured endpoint.
type Tracker struct {
	endpoint   string
	instanceID string
	propsFn    PropertiesFunc
	client     *http.Client
	startedAt  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker. It resolves (or generates) the instance ID from the
// settings store. Returns nil when telemetry is not enabled, or is disabled
// via env var or settings.
func New(ctx context.Context, store SettingsStore, cfg Config, propsFn PropertiesFunc) *Tracker {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil
	}
	if disabled(os.Getenv(envVar)) {
		return nil
	}
	if store != nil {
		val, err := store.GetSetting(ctx, "telemetry.enabled")
		if err == nil && disabled(val) {
			return nil
		}
	}

	return &Tracker{
		endpoint:   cfg.Endpoint,
		instanceID: resolveInstanceID(ctx, store),
		propsFn:    propsFn,
		client:     &http.Client{Timeout: httpTimeout},
		startedAt:  time.Now(),
	}
}

func disabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "off", "no":
		return true
	}
	return false
}

// Start begins the background telemetry loop. It sends an initial event
// immediately and then repeats every hour. Non-blocking.
func (t *Tracker) Start() {
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		t.flush(ctx, "server_started")

		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.flush(ctx, "server_heartbeat")
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and sends a final event.
func (t *Tracker) Shutdown() {
	if t == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.flush(context.Background(), "server_stopped")
}

func (t *Tracker) flush(ctx context.Context, event string) {
	props := t.propsFn()
	props.UptimeHrs = time.Since(t.startedAt).Hours()
	t.capture(ctx, event, props)
}

func (t *Tracker) capture(ctx context.Context, event string, props Properties) {
	payload := map[string]any{
		"event":       event,
		"distinct_id": t.instanceID,
		"properties":  props,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return // network issues are expected
	}
	resp.Body.Close()
}

// resolveInstanceID loads or generates a persistent anonymous instance ID.
func resolveInstanceID(ctx context.Context, store SettingsStore) string {
	if store != nil {
		id, err := store.GetSetting(ctx, "instance_id")
		if err == nil && id != "" {
			return id
		}
	}

	id := uuid.New().String()

	if store != nil {
		_ = store.SetSetting(ctx, "instance_id", id)
	}
	return id
}

// PrintNotice prints the first-run telemetry notice to stderr.
func PrintNotice(endpoint string) {
	fmt.Fprintf(os.Stderr, "Anonymous usage stats are sent to %s.\n", endpoint)
	fmt.Fprintf(os.Stderr, "Disable with telemetry.enabled: false in config.yaml (or set %s=0)\n", envVar)
	fmt.Fprintln(os.Stderr)
}
