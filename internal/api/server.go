// Package api provides the HTTP REST API and WebSocket endpoints for
// the fleet orchestrator.
//
// It exposes device registry reads, command submission, alert history
// and live state channels to operator tooling. The server follows the
// same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/alert"
	"github.com/fleetworks/adbfleet-core/internal/broadcast"
	"github.com/fleetworks/adbfleet-core/internal/command"
	"github.com/fleetworks/adbfleet-core/internal/device"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Registry    *device.Registry
	Commands    *command.Service
	Alerts      *alert.Pipeline
	AlertRepo   alert.Repository       // optional: persisted alert history
	Broadcaster *broadcast.Broadcaster // optional: live WebSocket channels
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	registry    *device.Registry
	commands    *command.Service
	alerts      *alert.Pipeline
	alertRepo   alert.Repository
	broadcaster *broadcast.Broadcaster
	version     string
	server      *http.Server
	ctx         context.Context // cancelled by Close to stop WebSocket pumps
	cancel      context.CancelFunc
}

// New creates an API server with the given dependencies. The server
// is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command service is required")
	}

	// WebSocket connections are hijacked from the HTTP server, so
	// Shutdown does not close them; their pumps watch this context.
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		registry:    deps.Registry,
		commands:    deps.Commands,
		alerts:      deps.Alerts,
		alertRepo:   deps.AlertRepo,
		broadcaster: deps.Broadcaster,
		version:     deps.Version,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start builds the router and launches the HTTP listener in a
// background goroutine. The server is stopped with Close.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10
// seconds for in-flight requests.
func (s *Server) Close() error {
	s.cancel()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
