package mqtt

import (
	"context"
	"errors"
	"testing"
)

// These tests exercise validation and state handling that does not
// require a live broker. Broker-dependent behaviour is covered by the
// integration tests (go test -tags=integration).

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("x"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "adbfleet/status",
			payload: []byte("x"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "adbfleet/status",
			payload: make([]byte, maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() with empty topic error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Subscribe("adbfleet/status", 3, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() with invalid qos error = %v, want ErrInvalidQoS", err)
	}

	if err := client.Subscribe("adbfleet/status", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() with nil handler error = %v, want ErrSubscribeFailed", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestSubscriptionTracking(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}

	client.subscriptions["adbfleet/device/+/command"] = subscription{
		topic: "adbfleet/device/+/command",
		qos:   1,
	}

	if !client.HasSubscription("adbfleet/device/+/command") {
		t.Error("HasSubscription() = false, want true")
	}

	if client.HasSubscription("adbfleet/device/x/command") {
		t.Error("HasSubscription() matched non-identical topic")
	}

	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}
}
