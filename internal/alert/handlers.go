package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Handler delivers one alert to one destination. Implementations must
// be safe to call from the pipeline's consumer goroutine and should
// honour ctx cancellation.
type Handler interface {
	Name() string
	Handle(ctx context.Context, a Alert) error
}

// LogHandler writes every alert to the structured log. Always
// registered so alerts are visible even with all other delivery
// disabled.
type LogHandler struct {
	logger Logger
}

// NewLogHandler creates a log delivery handler.
func NewLogHandler(logger Logger) *LogHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogHandler{logger: logger}
}

// Name identifies the handler in pipeline error logs.
func (*LogHandler) Name() string { return "log" }

// Handle logs the alert at a level matching its severity.
func (h *LogHandler) Handle(_ context.Context, a Alert) error {
	args := []any{"alert_id", a.ID, "title", a.Title, "message", a.Message}
	if a.DeviceID != "" {
		args = append(args, "device_id", a.DeviceID)
	}

	switch a.Level {
	case LevelInfo:
		h.logger.Info("alert", args...)
	case LevelWarning:
		h.logger.Warn("alert", args...)
	default:
		h.logger.Error("alert", args...)
	}
	return nil
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailHandler sends alerts over SMTP with STARTTLS. Info alerts are
// skipped: email is for conditions that need a human.
type EmailHandler struct {
	cfg EmailConfig
}

// NewEmailHandler creates an SMTP delivery handler.
func NewEmailHandler(cfg EmailConfig) *EmailHandler {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailHandler{cfg: cfg}
}

// Name identifies the handler in pipeline error logs.
func (*EmailHandler) Name() string { return "email" }

// Handle sends the alert as a plain-text email to every recipient.
func (h *EmailHandler) Handle(_ context.Context, a Alert) error {
	if a.Level == LevelInfo {
		return nil
	}
	if len(h.cfg.To) == 0 {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\n", h.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(h.cfg.To, ", "))
	fmt.Fprintf(&body, "Subject: [adbfleet %s] %s\r\n", a.Level, a.Title)
	fmt.Fprintf(&body, "\r\n%s\r\n", a.Message)
	if a.DeviceID != "" {
		fmt.Fprintf(&body, "\r\nDevice: %s\r\n", a.DeviceID)
	}
	fmt.Fprintf(&body, "Time: %s\r\n", a.Timestamp.UTC().Format(time.RFC3339))

	return h.send(addr, body.Bytes())
}

// send dials, upgrades to TLS, authenticates and submits the message.
// net/smtp's SendMail handles STARTTLS but not connection deadlines,
// so the steps are spelled out here against a deadline-capable dialer.
func (h *EmailHandler) send(addr string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dialling smtp server: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: h.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("starting tls: %w", err)
		}
	}

	if h.cfg.Username != "" {
		auth := smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := client.Mail(h.cfg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, rcpt := range h.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("setting recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening data stream: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data stream: %w", err)
	}

	return client.Quit()
}

// WebhookHandler POSTs each alert as JSON to a configured URL.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler creates an HTTP webhook delivery handler.
// timeout <= 0 defaults to 10 seconds.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the handler in pipeline error logs.
func (*WebhookHandler) Name() string { return "webhook" }

// Handle POSTs the alert and treats any non-2xx response as failure.
func (h *WebhookHandler) Handle(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a.ToMap())
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Publisher is the MQTT surface the alert handler needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicFunc maps an alert level to a publish topic.
type TopicFunc func(level string) string

// MQTTHandler publishes alerts to per-level MQTT topics.
type MQTTHandler struct {
	publisher Publisher
	topic     TopicFunc
}

// NewMQTTHandler creates an MQTT delivery handler.
func NewMQTTHandler(publisher Publisher, topic TopicFunc) *MQTTHandler {
	return &MQTTHandler{publisher: publisher, topic: topic}
}

// Name identifies the handler in pipeline error logs.
func (*MQTTHandler) Name() string { return "mqtt" }

// Handle publishes the alert as JSON at QoS 1.
func (h *MQTTHandler) Handle(_ context.Context, a Alert) error {
	payload, err := json.Marshal(a.ToMap())
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}
	return h.publisher.Publish(h.topic(string(a.Level)), payload, 1, false)
}

// Broadcaster is the pub-sub surface the alert handler needs.
type Broadcaster interface {
	BroadcastAlert(a Alert) error
}

// BroadcastHandler pushes alerts onto the live pub-sub alerts channel.
type BroadcastHandler struct {
	broadcaster Broadcaster
}

// NewBroadcastHandler creates a pub-sub delivery handler.
func NewBroadcastHandler(b Broadcaster) *BroadcastHandler {
	return &BroadcastHandler{broadcaster: b}
}

// Name identifies the handler in pipeline error logs.
func (*BroadcastHandler) Name() string { return "broadcast" }

// Handle forwards the alert to live subscribers.
func (h *BroadcastHandler) Handle(_ context.Context, a Alert) error {
	return h.broadcaster.BroadcastAlert(a)
}
