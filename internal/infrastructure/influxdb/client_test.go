package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestClient_Close_Zero(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestClient_HealthCheck_NotConnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_Flush_Disconnected(t *testing.T) {
	// Flush on a disconnected client must be a no-op, not a panic.
	client := &Client{}
	client.Flush()
}

func TestClient_Writes_Disconnected(t *testing.T) {
	// All write helpers silently drop points when disconnected.
	client := &Client{}

	client.WriteDeviceMetric("dev-1", "battery_percent", 50)
	client.WriteDeviceStatus("dev-1", "online")
	client.WriteCommandDuration("dev-1", "start", true, 2*time.Second, 1)
	client.WriteQueueDepth("dev-1", 3)
	client.WritePoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"f": 1})
}

func TestClient_SetOnError(t *testing.T) {
	client := &Client{}
	called := false
	client.SetOnError(func(error) { called = true })

	client.mu.RLock()
	cb := client.onError
	client.mu.RUnlock()

	if cb == nil {
		t.Fatal("expected error callback to be set")
	}
	cb(errors.New("test"))
	if !called {
		t.Error("callback was not invoked")
	}
}
