package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetworks/adbfleet-core/internal/adb"
	"github.com/fleetworks/adbfleet-core/internal/alert"
	"github.com/fleetworks/adbfleet-core/internal/broadcast"
	"github.com/fleetworks/adbfleet-core/internal/command"
	"github.com/fleetworks/adbfleet-core/internal/device"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/logging"
)

// stubChannel serves a fixed device listing to the registry.
type stubChannel struct {
	listings []adb.Listing
}

func (s *stubChannel) ListDevices(_ context.Context) ([]adb.Listing, error) {
	return s.listings, nil
}

// stubRunner completes every command successfully.
type stubRunner struct{}

func (stubRunner) ExecuteWithRetries(_ context.Context, _ *command.Command) command.Result {
	return command.Result{Success: true, Output: "ok", Timestamp: time.Now().UTC()}
}

// memoryRepo is a minimal command.Repository for handler tests.
type memoryRepo struct {
	mu       sync.Mutex
	commands map[string]command.Command
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{commands: map[string]command.Command{}}
}

func (r *memoryRepo) Create(_ context.Context, cmd *command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.ID] = *cmd
	return nil
}

func (r *memoryRepo) Update(_ context.Context, cmd *command.Command) error {
	return r.Create(context.Background(), cmd)
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*command.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[id]
	if !ok {
		return nil, command.ErrNotFound
	}
	return &cmd, nil
}

func (r *memoryRepo) ListRecent(_ context.Context, deviceID string, _ int) ([]*command.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*command.Command
	for _, cmd := range r.commands {
		if cmd.DeviceID == deviceID {
			cp := cmd
			out = append(out, &cp)
		}
	}
	return out, nil
}

type testEnv struct {
	srv         *httptest.Server
	registry    *device.Registry
	pipeline    *alert.Pipeline
	broadcaster *broadcast.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := device.NewRegistry(&stubChannel{listings: []adb.Listing{
		{ID: "dev-1", State: "device", Model: "Pixel_6"},
	}}, time.Minute)
	if _, err := registry.ScanDevices(context.Background()); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	queue := command.NewQueue(stubRunner{})
	svc := command.NewService(queue, newMemoryRepo(), nil)

	pipeline := alert.NewPipeline(100)
	pipeline.Start(context.Background())
	t.Cleanup(pipeline.Stop)

	broadcaster := broadcast.New(registry)
	broadcaster.Start(context.Background())
	t.Cleanup(broadcaster.Stop)

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	server, err := New(Deps{
		Config:      config.APIConfig{},
		WS:          config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 4096, SendBuffer: 16},
		Logger:      logger,
		Registry:    registry,
		Commands:    svc,
		Alerts:      pipeline,
		Broadcaster: broadcaster,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(server.buildRouter())
	t.Cleanup(ts.Close)

	return &testEnv{srv: ts, registry: registry, pipeline: pipeline, broadcaster: broadcaster}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok version test", body)
	}
}

func TestHandleListDevices(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/devices")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestHandleGetDevice(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/devices/dev-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["id"] != "dev-1" || body["status"] != "online" {
		t.Errorf("body = %v, want dev-1 online", body)
	}

	resp, _ = env.get(t, "/api/v1/devices/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown device = %d, want 404", resp.StatusCode)
	}
}

func TestHandleDeviceStats(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/devices/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["total"] != float64(1) || body["online"] != float64(1) {
		t.Errorf("stats = %v, want total 1 online 1", body)
	}
}

func TestHandleEnqueueCommand(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/v1/devices/dev-1/commands", map[string]any{
		"type":     "stop",
		"priority": 5,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if !strings.HasPrefix(id, "cmd-") {
		t.Fatalf("command id = %v, want cmd- prefix", body["id"])
	}

	// The async drain completes shortly; the record becomes terminal.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body = env.get(t, "/api/v1/commands/"+id)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if body["status"] == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("command never completed: %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleEnqueueCommand_Validation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/api/v1/devices/dev-1/commands", map[string]any{"type": "reboot"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for unknown type = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.post(t, "/api/v1/devices/ghost/commands", map[string]any{"type": "stop"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown device = %d, want 404", resp.StatusCode)
	}
}

func TestHandleGetCommand_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/v1/commands/cmd-missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleQueueStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/v1/devices/dev-1/queue")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["size"] != float64(0) {
		t.Errorf("size = %v, want 0", body["size"])
	}
}

func TestHandleClearQueue(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/devices/dev-1/queue", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE queue: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["dropped"] != float64(0) {
		t.Errorf("dropped = %v, want 0", body["dropped"])
	}
}

func TestHandleSimulationAction(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/v1/devices/dev-1/simulation/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("body = %v, want success true", body)
	}

	resp, _ = env.post(t, "/api/v1/devices/dev-1/simulation/reboot", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for unknown action = %d, want 400", resp.StatusCode)
	}
}

func TestHandleListAlerts(t *testing.T) {
	env := newTestEnv(t)

	env.pipeline.Send(alert.LevelWarning, "t1", "m", "dev-1", nil)
	env.pipeline.Send(alert.LevelError, "t2", "m", "", nil)

	// History is written by the pipeline consumer; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for len(env.pipeline.History("", "", 0)) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("alerts never reached history")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := env.get(t, "/api/v1/alerts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	resp, body = env.get(t, "/api/v1/alerts?level=error")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Errorf("filtered count = %v, want 1", body["count"])
	}

	resp, _ = env.get(t, "/api/v1/alerts?level=fatal")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for invalid level = %d, want 400", resp.StatusCode)
	}
}

func TestHandleWebSocket_DevicesSnapshot(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/ws/devices"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialling websocket: %v (resp %v)", err, resp)
	}
	defer conn.Close()

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}

	var msg broadcast.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if msg.Type != "device_snapshot" {
		t.Errorf("message type = %q, want device_snapshot", msg.Type)
	}
}

func TestHandleWebSocket_ReceivesBroadcast(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialling websocket: %v", err)
	}
	defer conn.Close()

	// Give the subscription a moment to register before broadcasting.
	time.Sleep(50 * time.Millisecond)

	a := alert.Alert{ID: "alr-test", Level: alert.LevelCritical, Title: "device down", DeviceID: "dev-1", Timestamp: time.Now().UTC()}
	if err := env.broadcaster.BroadcastAlert(a); err != nil {
		t.Fatalf("BroadcastAlert() error = %v", err)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}

	var msg broadcast.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("broadcast is not JSON: %v", err)
	}
	if msg.Type != "alert" {
		t.Errorf("message type = %q, want alert", msg.Type)
	}
}
