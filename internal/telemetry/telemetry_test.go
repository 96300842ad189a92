package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockStore implements SettingsStore for testing.
type mockStore struct {
	data map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}

func (m *mockStore) SetSetting(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

var enabled = Config{Enabled: true, Endpoint: "http://127.0.0.1:1/capture"}

func noProps() Properties { return Properties{} }

func TestResolveInstanceID_GeneratesAndPersists(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	id := resolveInstanceID(ctx, store)
	if id == "" {
		t.Fatal("expected non-empty instance ID")
	}

	stored, err := store.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("expected instance_id in store: %v", err)
	}
	if stored != id {
		t.Errorf("stored ID %q != returned ID %q", stored, id)
	}

	if id2 := resolveInstanceID(ctx, store); id2 != id {
		t.Errorf("expected same ID on second call, got %q vs %q", id2, id)
	}
}

func TestResolveInstanceID_NilStore(t *testing.T) {
	if id := resolveInstanceID(context.Background(), nil); id == "" {
		t.Fatal("expected non-empty instance ID even with nil store")
	}
}

func TestNew_DisabledByDefault(t *testing.T) {
	if New(context.Background(), newMockStore(), Config{}, noProps) != nil {
		t.Fatal("expected nil tracker with zero config")
	}
	if New(context.Background(), newMockStore(), Config{Enabled: true}, noProps) != nil {
		t.Fatal("expected nil tracker without an endpoint")
	}
}

func TestNew_DisabledViaSetting(t *testing.T) {
	store := newMockStore()
	store.data["telemetry.enabled"] = "false"

	if New(context.Background(), store, enabled, noProps) != nil {
		t.Fatal("expected nil tracker when telemetry is disabled via setting")
	}
}

func TestNew_DisabledViaEnv(t *testing.T) {
	for _, val := range []string{"0", "false", "False", "OFF", "no"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("KEYGATE_TELEMETRY", val)
			if New(context.Background(), newMockStore(), enabled, noProps) != nil {
				t.Fatalf("expected nil tracker when KEYGATE_TELEMETRY=%s", val)
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	store := newMockStore()
	tracker := New(context.Background(), store, enabled, noProps)
	if tracker == nil {
		t.Fatal("expected non-nil tracker when enabled with an endpoint")
	}

	id, err := store.GetSetting(context.Background(), "instance_id")
	if err != nil {
		t.Fatalf("instance_id not persisted: %v", err)
	}
	if id != tracker.instanceID {
		t.Errorf("persisted ID %q != tracker ID %q", id, tracker.instanceID)
	}
}

func TestTracker_SendsEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []map[string]interface{}
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
	}))
	defer ts.Close()

	tracker := New(context.Background(), newMockStore(), Config{Enabled: true, Endpoint: ts.URL}, func() Properties {
		return Properties{Version: "test", StoreDriver: "sqlite", Licenses: 3}
	})
	tracker.Start()
	time.Sleep(100 * time.Millisecond)
	tracker.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want start and stop", len(events))
	}
	if events[0]["event"] != "server_started" || events[1]["event"] != "server_stopped" {
		t.Errorf("events = %v", events)
	}
	props, _ := events[0]["properties"].(map[string]interface{})
	if props["store_driver"] != "sqlite" || props["license_count"] != float64(3) {
		t.Errorf("properties = %v", props)
	}
	if events[0]["distinct_id"] != tracker.instanceID {
		t.Errorf("distinct_id = %v", events[0]["distinct_id"])
	}
}

func TestStartShutdown_NilTracker(t *testing.T) {
	var tracker *Tracker
	tracker.Start()
	tracker.Shutdown()
}
