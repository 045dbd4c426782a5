package adb

import (
	"context"
	"testing"
	"time"
)

func TestNewServerManager_Defaults(t *testing.T) {
	m := NewServerManager(ServerConfig{Binary: "adb"})

	if m.cfg.Port != 5037 {
		t.Errorf("Port = %d, want 5037", m.cfg.Port)
	}
	if m.cfg.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want 5s", m.cfg.RestartDelay)
	}
	if m.cfg.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want 10s", m.cfg.GracefulTimeout)
	}
	if m.Status() != ServerStopped {
		t.Errorf("Status() = %v, want ServerStopped", m.Status())
	}
}

func TestServerManager_StartMissingBinary(t *testing.T) {
	m := NewServerManager(ServerConfig{Binary: "/nonexistent/adb"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error for missing binary")
	}

	if m.Status() != ServerFailed {
		t.Errorf("Status() = %v, want ServerFailed", m.Status())
	}
}

func TestServerManager_StopWhenNotRunning(t *testing.T) {
	m := NewServerManager(ServerConfig{Binary: "adb"})

	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped manager error = %v, want nil", err)
	}
}

func TestServerManager_UptimeWhenStopped(t *testing.T) {
	m := NewServerManager(ServerConfig{Binary: "adb"})

	if got := m.Uptime(); got != 0 {
		t.Errorf("Uptime() = %v, want 0 when stopped", got)
	}
}

func TestServerManager_RestartCountInitiallyZero(t *testing.T) {
	m := NewServerManager(ServerConfig{Binary: "adb"})

	if got := m.RestartCount(); got != 0 {
		t.Errorf("RestartCount() = %d, want 0", got)
	}
}
