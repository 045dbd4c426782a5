// adbfleet - Android device fleet orchestrator
//
// This is the main entry point for the adbfleet controller. It keeps a
// registry of attached devices reconciled against the adb channel, runs
// per-device serialized command queues, and pushes device state and
// alerts to operator tooling over WebSocket, MQTT and email/webhook.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/fleetworks/adbfleet-core/migrations"

	"github.com/fleetworks/adbfleet-core/internal/adb"
	"github.com/fleetworks/adbfleet-core/internal/alert"
	"github.com/fleetworks/adbfleet-core/internal/api"
	"github.com/fleetworks/adbfleet-core/internal/broadcast"
	"github.com/fleetworks/adbfleet-core/internal/command"
	"github.com/fleetworks/adbfleet-core/internal/device"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/database"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/influxdb"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/logging"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting adbfleet",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// ADB automation channel
	controller := adb.NewController(adb.NewExecRunner(cfg.ADB.Binary))
	controller.SetLogger(log)

	// Start the adb server as a supervised subprocess (if managed)
	if cfg.ADB.Server.Managed {
		serverManager, srvErr := startADBServer(ctx, cfg, log)
		if srvErr != nil {
			return fmt.Errorf("starting adb server: %w", srvErr)
		}
		defer func() {
			log.Info("stopping adb server")
			if stopErr := serverManager.Stop(); stopErr != nil {
				log.Error("error stopping adb server", "error", stopErr)
			}
		}()
	}

	// Device registry, not scanning yet: the notifier is wired first so
	// the initial scan's events reach the broadcast and alert paths.
	registry := device.NewRegistry(controller, cfg.ScanInterval())
	registry.SetLogger(log)

	// Broadcast fan-out for live subscribers
	broadcaster := broadcast.New(registry)
	broadcaster.SetLogger(log)
	broadcaster.Start(ctx)
	defer func() {
		log.Info("stopping broadcaster")
		broadcaster.Stop()
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Alert pipeline with delivery handlers. Handlers must all be
	// registered before Start.
	alertRepo := alert.NewSQLiteRepository(db.DB)
	pipeline := alert.NewPipeline(cfg.Alerts.HistorySize)
	pipeline.SetLogger(log)
	pipeline.AddHandler(alert.NewLogHandler(log))
	pipeline.AddHandler(alertRepo)
	pipeline.AddHandler(alert.NewBroadcastHandler(broadcaster))
	if cfg.Alerts.Email.Enabled {
		pipeline.AddHandler(alert.NewEmailHandler(alert.EmailConfig{
			Host:     cfg.Alerts.Email.SMTPHost,
			Port:     cfg.Alerts.Email.SMTPPort,
			Username: cfg.Alerts.Email.Username,
			Password: cfg.Alerts.Email.Password,
			From:     cfg.Alerts.Email.From,
			To:       cfg.Alerts.Email.To,
		}))
		log.Info("email alerts enabled", "recipients", len(cfg.Alerts.Email.To))
	}
	if cfg.Alerts.Webhook.Enabled {
		timeout := time.Duration(cfg.Alerts.Webhook.TimeoutSeconds) * time.Second
		pipeline.AddHandler(alert.NewWebhookHandler(cfg.Alerts.Webhook.URL, timeout))
		log.Info("webhook alerts enabled")
	}
	if mqttClient != nil {
		pipeline.AddHandler(alert.NewMQTTHandler(mqttClient, mqtt.Topics{}.Alert))
	}
	pipeline.Start(ctx)
	defer func() {
		log.Info("stopping alert pipeline")
		pipeline.Stop()
	}()
	log.Info("alert pipeline started", "history_size", cfg.Alerts.HistorySize)

	// Command execution: executor behind a per-device serialized queue
	executor := command.NewExecutor(controller, registry, cfg)
	executor.SetLogger(log)
	executor.SetAlerter(pipeline)
	executor.SetBroadcaster(broadcaster)

	queue := command.NewQueue(executor)
	queue.SetLogger(log)

	commandRepo := command.NewSQLiteRepository(db.DB)
	commandService := command.NewService(queue, commandRepo, cfg.Presets)
	commandService.SetLogger(log)
	if influxClient != nil {
		commandService.SetTelemetry(influxClient)
	}

	// Bus command path: external producers publish requests to the
	// per-device command topics, terminal outcomes go back out on the
	// result topics.
	if mqttClient != nil {
		bridge := newCommandBridge(commandService, mqttClient, byte(cfg.MQTT.QoS), log)
		commandService.SetOnTerminal(bridge.publishResult)
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.AllDeviceCommands(), byte(cfg.MQTT.QoS), bridge.handleCommand(ctx)); subErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", subErr)
		}
		log.Info("bus command bridge active", "topic", mqtt.Topics{}.AllDeviceCommands())
	}

	// Registry change events feed the broadcast, alert and telemetry paths
	registry.SetNotifier(&fleetNotifier{
		broadcaster: broadcaster,
		alerts:      pipeline,
		mqtt:        mqttClient,
		influx:      influxClient,
		log:         log,
	})

	// Initial scan plus the periodic reconciliation goroutine
	if initErr := registry.Initialize(ctx); initErr != nil {
		return fmt.Errorf("initialising device registry: %w", initErr)
	}
	defer func() {
		log.Info("stopping device registry")
		registry.Shutdown()
	}()
	log.Info("device registry initialised",
		"devices", registry.Stats().Total,
		"scan_interval", cfg.ScanInterval(),
	)

	// Periodic metric polling: battery and app liveness per device
	if cfg.Monitor.Enabled {
		monitor := device.NewMonitor(controller, registry, cfg.App.Package, cfg.MonitorInterval())
		monitor.SetLogger(log)
		monitor.SetBatteryWarnLevel(cfg.Monitor.BatteryWarnLevel)
		monitor.SetEvents(&monitorNotifier{alerts: pipeline})
		if influxClient != nil {
			monitor.SetMetrics(influxClient)
		}
		if monErr := monitor.Start(ctx); monErr != nil {
			return fmt.Errorf("starting device monitor: %w", monErr)
		}
		defer func() {
			log.Info("stopping device monitor")
			monitor.Stop()
		}()
		log.Info("device monitor started",
			"interval", cfg.MonitorInterval(),
			"battery_warn_level", cfg.Monitor.BatteryWarnLevel,
		)
	}

	// HTTP API and WebSocket server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Registry:    registry,
		Commands:    commandService,
		Alerts:      pipeline,
		AlertRepo:   alertRepo,
		Broadcaster: broadcaster,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal; deferred Close calls run in reverse order
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("adbfleet stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ADBFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ADBFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startADBServer initialises and starts the supervised adb server.
func startADBServer(ctx context.Context, cfg *config.Config, log *logging.Logger) (*adb.ServerManager, error) {
	manager := adb.NewServerManager(adb.ServerConfig{
		Binary:              cfg.ADB.Binary,
		Port:                cfg.ADB.Server.Port,
		RestartOnFailure:    cfg.ADB.Server.RestartOnFailure,
		RestartDelay:        time.Duration(cfg.ADB.Server.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts:  cfg.ADB.Server.MaxRestartAttempts,
		HealthCheckInterval: cfg.ADB.Server.HealthCheckInterval,
	})
	manager.SetLogger(log)

	if err := manager.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("adb server started",
		"port", cfg.ADB.Server.Port,
		"restart_on_failure", cfg.ADB.Server.RestartOnFailure,
	)
	return manager, nil
}

// healthCheck verifies infrastructure connections are healthy. The MQTT
// and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// fleetNotifier fans registry change events out to the broadcast,
// alert, MQTT and telemetry paths. The mqtt and influx clients are nil
// when those integrations are disabled.
//
// Offline and error transitions raise warnings, recoveries raise info.
// Removal is broadcast-only: a device being unplugged on purpose is
// routine, and if it went offline first the transition already alerted.
type fleetNotifier struct {
	broadcaster *broadcast.Broadcaster
	alerts      *alert.Pipeline
	mqtt        *mqtt.Client
	influx      *influxdb.Client
	log         *logging.Logger
}

// DeviceAdded implements device.Notifier.
func (n *fleetNotifier) DeviceAdded(d device.Device) {
	n.push(d)
	n.alerts.Send(alert.LevelInfo, "device discovered",
		fmt.Sprintf("device %s (%s) joined the fleet with status %s", d.ID, d.Model, d.Status),
		d.ID, map[string]any{"model": d.Model, "status": string(d.Status)})
}

// DeviceStatusChanged implements device.Notifier.
func (n *fleetNotifier) DeviceStatusChanged(d device.Device, old device.Status) {
	n.push(d)

	level := alert.LevelInfo
	if d.Status == device.StatusOffline || d.Status == device.StatusError {
		level = alert.LevelWarning
	}
	n.alerts.Send(level, "device status changed",
		fmt.Sprintf("device %s went from %s to %s", d.ID, old, d.Status),
		d.ID, map[string]any{"old_status": string(old), "new_status": string(d.Status)})
}

// DeviceRemoved implements device.Notifier.
func (n *fleetNotifier) DeviceRemoved(d device.Device) {
	n.push(d)
}

// monitorNotifier turns monitor anomalies into alerts.
type monitorNotifier struct {
	alerts *alert.Pipeline
}

// BatteryLow implements device.MonitorEvents.
func (n *monitorNotifier) BatteryLow(d device.Device, level int) {
	n.alerts.Send(alert.LevelWarning, "battery low",
		fmt.Sprintf("device %s battery at %d%%", d.ID, level),
		d.ID, map[string]any{"battery": level})
}

// BatteryRecovered implements device.MonitorEvents.
func (n *monitorNotifier) BatteryRecovered(d device.Device, level int) {
	n.alerts.Send(alert.LevelInfo, "battery recovered",
		fmt.Sprintf("device %s battery back at %d%%", d.ID, level),
		d.ID, map[string]any{"battery": level})
}

// AppNotRunning implements device.MonitorEvents.
func (n *monitorNotifier) AppNotRunning(d device.Device) {
	n.alerts.Send(alert.LevelWarning, "app not running",
		fmt.Sprintf("device %s is marked running but the app process is gone", d.ID),
		d.ID, nil)
}

// push sends the device's current state to the live channels.
func (n *fleetNotifier) push(d device.Device) {
	if err := n.broadcaster.BroadcastDeviceStatus(d); err != nil {
		n.log.Warn("broadcasting device status", "device_id", d.ID, "error", err)
	}
	if n.mqtt != nil {
		payload, err := json.Marshal(d.ToMap())
		if err == nil {
			err = n.mqtt.PublishRetained(mqtt.Topics{}.DeviceStatus(d.ID), payload)
		}
		if err != nil {
			n.log.Warn("publishing device status", "device_id", d.ID, "error", err)
		}
	}
	if n.influx != nil {
		n.influx.WriteDeviceStatus(d.ID, string(d.Status))
	}
}
