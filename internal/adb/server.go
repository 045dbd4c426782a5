package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ServerStatus represents the state of the managed adb server process.
type ServerStatus string

const (
	ServerStopped  ServerStatus = "stopped"
	ServerStarting ServerStatus = "starting"
	ServerRunning  ServerStatus = "running"
	ServerFailed   ServerStatus = "failed"
)

// serverOutputBufferSize is the buffer size for capturing server stdout/stderr.
const serverOutputBufferSize = 4096

// healthCheckTimeout bounds each `adb version` probe.
const healthCheckTimeout = 5 * time.Second

// consecutive health check failures tolerated before the server is killed.
const maxHealthFailures = 3

// ServerConfig configures the managed adb server.
type ServerConfig struct {
	// Binary is the path to the adb executable.
	Binary string

	// Port the server listens on. Default 5037.
	Port int

	// RestartOnFailure enables automatic restart when the server exits
	// unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the wait before a restart attempt.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait for SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckInterval is how often `adb version` is probed.
	// Zero disables health checking.
	HealthCheckInterval time.Duration
}

// ServerManager runs `adb server nodaemon` as a supervised subprocess.
//
// Most deployments let adb spawn its own background server; this manager
// exists for containerized setups where the controller owns the server
// lifecycle and needs restart-on-failure plus a hung-server watchdog.
type ServerManager struct {
	cfg    ServerConfig
	runner Runner
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        ServerStatus
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool

	done chan struct{}
}

// NewServerManager creates a manager for the adb server process.
func NewServerManager(cfg ServerConfig) *ServerManager {
	if cfg.Port == 0 {
		cfg.Port = 5037
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &ServerManager{
		cfg:    cfg,
		runner: NewExecRunner(cfg.Binary),
		logger: noopLogger{},
		status: ServerStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *ServerManager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the adb server and begins supervising it.
func (m *ServerManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == ServerRunning || m.status == ServerStarting {
		m.mu.Unlock()
		return errors.New("adb: server already running")
	}
	m.status = ServerStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = ServerFailed
		m.lastError = err
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)

	return nil
}

// startProcess starts the adb server subprocess.
func (m *ServerManager) startProcess(ctx context.Context) error {
	args := []string{"-P", strconv.Itoa(m.cfg.Port), "server", "nodaemon"}

	m.logger.Info("starting adb server", "binary", m.cfg.Binary, "port", m.cfg.Port)

	cmd := exec.CommandContext(ctx, m.cfg.Binary, args...) //nolint:gosec // Binary path comes from validated config

	// New process group so the whole tree can be signalled on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting server: %v", ErrChannelUnavailable, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = ServerRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("adb server started", "pid", cmd.Process.Pid)

	return nil
}

// captureOutput logs server output at debug level.
func (m *ServerManager) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, serverOutputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("adb server output", "stream", stream, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// healthCheck probes the server with `adb version`.
func (m *ServerManager) healthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	_, err := m.runner.Run(checkCtx, "version")
	return err
}

// waitForExitOrHealthFailure blocks until the server exits or the health
// watchdog gives up on it. A hung server is killed after repeated probe
// failures.
func (m *ServerManager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.cfg.HealthCheckInterval <= 0 {
		return <-exitCh
	}

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := m.healthCheck(ctx); err != nil {
				failures++
				m.logger.Warn("adb server health check failed",
					"error", err,
					"consecutive_failures", failures,
				)

				if failures >= maxHealthFailures {
					m.logger.Error("adb server unresponsive, killing", "failures", failures)
					if cmd.Process != nil {
						cmd.Process.Kill()
					}
					select {
					case exitErr := <-exitCh:
						return fmt.Errorf("killed after %d failed health checks: %w", failures, exitErr)
					case <-time.After(healthCheckTimeout):
						return errors.New("adb: server did not exit after kill")
					}
				}
			} else {
				if failures > 0 {
					m.logger.Info("adb server health recovered", "previous_failures", failures)
				}
				failures = 0
			}
		}
	}
}

// supervise watches the server process and handles restarts.
func (m *ServerManager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		if cmd == nil {
			return
		}

		err := m.waitForExitOrHealthFailure(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("adb server stopped as requested")
			m.mu.Lock()
			m.status = ServerStopped
			m.mu.Unlock()
			return
		}

		m.logger.Warn("adb server exited unexpectedly", "error", err)

		m.mu.Lock()
		m.lastError = err
		m.status = ServerFailed
		m.mu.Unlock()

		if !m.cfg.RestartOnFailure {
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
			m.logger.Error("adb server max restart attempts reached", "attempts", attempt)
			return
		}

		m.logger.Info("restarting adb server", "attempt", attempt, "delay", m.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.RestartDelay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := m.startProcess(ctx); err != nil {
			m.logger.Error("failed to restart adb server", "error", err)
			// Loop again; the restart budget still applies.
		}
	}
}

// Stop gracefully stops the adb server.
// It sends SIGTERM to the process group and escalates to SIGKILL after
// the graceful timeout.
func (m *ServerManager) Stop() error {
	m.mu.Lock()
	if m.status != ServerRunning && m.status != ServerStarting {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping adb server", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to send SIGTERM to adb server", "error", err)
		}
	}

	select {
	case <-done:
		m.logger.Info("adb server stopped gracefully")
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("adb server graceful shutdown timeout, sending SIGKILL")
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing adb server process group: %w", err)
		}
	}

	<-done
	return nil
}

// Status returns the current server status.
func (m *ServerManager) Status() ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the server is currently running.
func (m *ServerManager) IsRunning() bool {
	return m.Status() == ServerRunning
}

// RestartCount returns how many times the server has been restarted.
func (m *ServerManager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the server has been running, or 0 if stopped.
func (m *ServerManager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != ServerRunning {
		return 0
	}
	return time.Since(m.startTime)
}
