package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for adbfleet.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig     `yaml:"service"`
	Database  DatabaseConfig    `yaml:"database"`
	ADB       ADBConfig         `yaml:"adb"`
	App       AppConfig         `yaml:"app"`
	Scan      ScanConfig        `yaml:"scan"`
	Monitor   MonitorConfig     `yaml:"monitor"`
	Commands  CommandsConfig    `yaml:"commands"`
	Alerts    AlertsConfig      `yaml:"alerts"`
	API       APIConfig         `yaml:"api"`
	WebSocket WebSocketConfig   `yaml:"websocket"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig    `yaml:"influxdb"`
	Logging   LoggingConfig     `yaml:"logging"`
	Presets   map[string]Preset `yaml:"presets"`
}

// ServiceConfig identifies this fleet controller instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings for command and alert history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ADBConfig contains settings for the adb automation channel.
type ADBConfig struct {
	// Binary is the path to the adb executable. Default: "adb" (resolved via PATH).
	Binary string `yaml:"binary"`

	// Server contains settings for the optionally managed adb server daemon.
	Server ADBServerConfig `yaml:"server"`
}

// ADBServerConfig contains settings for managing the adb server process.
// When Managed is false, adb is expected to manage its own server.
type ADBServerConfig struct {
	Managed             bool          `yaml:"managed"`
	Port                int           `yaml:"port"`
	RestartOnFailure    bool          `yaml:"restart_on_failure"`
	RestartDelaySeconds int           `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int           `yaml:"max_restart_attempts"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// AppConfig identifies the controlled application on each device.
type AppConfig struct {
	// Package is the Android package name of the controlled app.
	Package string `yaml:"package"`

	// Activity is the main activity launched by start commands.
	Activity string `yaml:"activity"`

	// PrefsFile is the shared-preferences file (without .xml) written by
	// start commands to apply settings before launch.
	PrefsFile string `yaml:"prefs_file"`
}

// ScanConfig controls periodic device-registry reconciliation.
type ScanConfig struct {
	// Interval between periodic scans, in seconds.
	Interval int `yaml:"interval"`
}

// MonitorConfig controls periodic device metric polling.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between metric polls, in seconds.
	Interval int `yaml:"interval"`

	// BatteryWarnLevel is the percentage at or below which a low-battery
	// warning is raised.
	BatteryWarnLevel int `yaml:"battery_warn_level"`
}

// CommandsConfig controls command execution behaviour.
type CommandsConfig struct {
	// MaxAttempts is the number of execution attempts before a command is
	// declared exhausted. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoffSeconds is the fixed sleep between attempts. Default: 5.
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`

	// Timeouts are per command type, in seconds.
	Timeouts CommandTimeouts `yaml:"timeouts"`
}

// CommandTimeouts holds the per-command-type attempt deadlines, in seconds.
type CommandTimeouts struct {
	Start  int `yaml:"start"`
	Stop   int `yaml:"stop"`
	Pause  int `yaml:"pause"`
	Resume int `yaml:"resume"`
	Status int `yaml:"status"`
	Shell  int `yaml:"shell"`
}

// AlertsConfig controls the alert pipeline and its delivery handlers.
type AlertsConfig struct {
	// HistorySize is the capacity of the in-memory alert ring buffer.
	HistorySize int `yaml:"history_size"`

	Email   EmailAlertConfig   `yaml:"email"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

// EmailAlertConfig configures the SMTP alert handler.
type EmailAlertConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// WebhookAlertConfig configures the HTTP webhook alert handler.
type WebhookAlertConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains live-subscriber connection settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// MQTTConfig contains settings for the optional fleet bus bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains settings for optional command/device telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Preset is a named bundle of start-command parameters.
type Preset struct {
	URL         string          `yaml:"url"`
	Iterations  int             `yaml:"iterations"`
	MinInterval int             `yaml:"min_interval"`
	MaxInterval int             `yaml:"max_interval"`
	Features    map[string]bool `yaml:"features"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ADBFLEET_SECTION_KEY
// For example: ADBFLEET_DATABASE_PATH, ADBFLEET_API_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "fleet-001",
			Name: "adbfleet",
		},
		Database: DatabaseConfig{
			Path:        "./data/adbfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		ADB: ADBConfig{
			Binary: "adb",
			Server: ADBServerConfig{
				Managed:             false,
				Port:                5037,
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
				HealthCheckInterval: 30 * time.Second,
			},
		},
		App: AppConfig{
			Package:   "com.example.trafficsim",
			Activity:  ".presentation.MainActivity",
			PrefsFile: "simulation_prefs",
		},
		Scan: ScanConfig{
			Interval: 30,
		},
		Monitor: MonitorConfig{
			Enabled:          true,
			Interval:         60,
			BatteryWarnLevel: 10,
		},
		Commands: CommandsConfig{
			MaxAttempts:         3,
			RetryBackoffSeconds: 5,
			Timeouts: CommandTimeouts{
				Start:  300,
				Stop:   60,
				Pause:  30,
				Resume: 30,
				Status: 10,
				Shell:  60,
			},
		},
		Alerts: AlertsConfig{
			HistorySize: 1000,
			Webhook: WebhookAlertConfig{
				TimeoutSeconds: 10,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "adbfleet-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ADBFLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ADBFLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// ADB
	if v := os.Getenv("ADBFLEET_ADB_BINARY"); v != "" {
		cfg.ADB.Binary = v
	}

	// API
	if v := os.Getenv("ADBFLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ADBFLEET_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("ADBFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ADBFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ADBFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ADBFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Alert delivery secrets
	if v := os.Getenv("ADBFLEET_SMTP_PASSWORD"); v != "" {
		cfg.Alerts.Email.Password = v
	}
	if v := os.Getenv("ADBFLEET_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required")
	}

	if c.App.Package == "" {
		errs = append(errs, "app.package is required")
	}

	if c.Scan.Interval < 1 {
		errs = append(errs, "scan.interval must be at least 1 second")
	}

	if c.Monitor.Enabled && c.Monitor.Interval < 1 {
		errs = append(errs, "monitor.interval must be at least 1 second")
	}

	if c.Commands.MaxAttempts < 1 {
		errs = append(errs, "commands.max_attempts must be at least 1")
	}

	if c.Alerts.HistorySize < 1 {
		errs = append(errs, "alerts.history_size must be at least 1")
	}

	if c.Alerts.Email.Enabled && c.Alerts.Email.SMTPHost == "" {
		errs = append(errs, "alerts.email.smtp_host is required when email alerts are enabled")
	}

	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		errs = append(errs, "alerts.webhook.url is required when webhook alerts are enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ScanInterval returns the scan interval as a Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.Interval) * time.Second
}

// MonitorInterval returns the metric poll interval as a Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.Interval) * time.Second
}

// RetryBackoff returns the command retry backoff as a Duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Commands.RetryBackoffSeconds) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Timeout returns the attempt deadline for the given command type.
// Unknown types fall back to the shell timeout.
func (t CommandTimeouts) Timeout(commandType string) time.Duration {
	seconds := t.Shell
	switch commandType {
	case "start":
		seconds = t.Start
	case "stop":
		seconds = t.Stop
	case "pause":
		seconds = t.Pause
	case "resume":
		seconds = t.Resume
	case "status":
		seconds = t.Status
	}
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
