package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testAlert() Alert {
	return Alert{
		ID:        "alr-test01",
		Level:     LevelWarning,
		Title:     "device offline",
		Message:   "device dev-1 went offline",
		DeviceID:  "dev-1",
		Timestamp: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookHandler_PostsJSON(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.URL, 5*time.Second)
	if err := h.Handle(context.Background(), testAlert()); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if received["level"] != "warning" {
		t.Errorf("payload level = %v, want warning", received["level"])
	}
	if received["device_id"] != "dev-1" {
		t.Errorf("payload device_id = %v, want dev-1", received["device_id"])
	}
}

func TestWebhookHandler_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.URL, 5*time.Second)
	if err := h.Handle(context.Background(), testAlert()); err == nil {
		t.Error("Handle() error = nil, want error for 500 response")
	}
}

func TestWebhookHandler_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewWebhookHandler(srv.URL, 5*time.Second)
	if err := h.Handle(ctx, testAlert()); err == nil {
		t.Error("Handle() error = nil, want context error")
	}
}

type fakePublisher struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.topic = topic
	f.payload = payload
	return nil
}

func TestMQTTHandler_PublishesToLevelTopic(t *testing.T) {
	pub := &fakePublisher{}
	h := NewMQTTHandler(pub, func(level string) string {
		return "adbfleet/alert/" + level
	})

	if err := h.Handle(context.Background(), testAlert()); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if pub.topic != "adbfleet/alert/warning" {
		t.Errorf("topic = %q, want adbfleet/alert/warning", pub.topic)
	}

	var payload map[string]any
	if err := json.Unmarshal(pub.payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["title"] != "device offline" {
		t.Errorf("payload title = %v, want 'device offline'", payload["title"])
	}
}

func TestLogHandler_NeverFails(t *testing.T) {
	h := NewLogHandler(nil)
	for _, level := range []Level{LevelInfo, LevelWarning, LevelError, LevelCritical} {
		a := testAlert()
		a.Level = level
		if err := h.Handle(context.Background(), a); err != nil {
			t.Errorf("Handle(%s) error = %v, want nil", level, err)
		}
	}
}

func TestEmailHandler_SkipsInfo(t *testing.T) {
	h := NewEmailHandler(EmailConfig{Host: "smtp.invalid", To: []string{"ops@example.com"}})
	a := testAlert()
	a.Level = LevelInfo

	// Info alerts are skipped before any network dialling happens.
	if err := h.Handle(context.Background(), a); err != nil {
		t.Errorf("Handle(info) error = %v, want nil", err)
	}
}

func TestEmailHandler_NoRecipients(t *testing.T) {
	h := NewEmailHandler(EmailConfig{Host: "smtp.invalid"})
	if err := h.Handle(context.Background(), testAlert()); err != nil {
		t.Errorf("Handle() with no recipients error = %v, want nil", err)
	}
}
