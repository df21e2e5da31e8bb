package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-intercom/internal/audit"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-intercom/internal/intercom"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
)

const (
	// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
	gracefulShutdownTimeout = 10 * time.Second

	// WebSocket keepalive defaults, in seconds.
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// Controller is the door station as the API drives it.
// *intercom.Coordinator implements it.
type Controller interface {
	Snapshot(ctx context.Context) (intercom.SystemState, error)
	Ring(ctx context.Context) error
	HandleExternalTrigger(ctx context.Context) error
	InitiateCall(ctx context.Context, target string) error
	TerminateCall(ctx context.Context) error
	Execute(ctx context.Context, cmd dtmf.Command, param uint32) error
	SetDTMFEnabled(ctx context.Context, enabled bool) error
	ResetStatistics(ctx context.Context) error
	ResetErrorCount(ctx context.Context) error
	Reconfigure(ctx context.Context, creds digest.Credentials, mappings []dtmf.Mapping) error
}

// HealthChecker is an infrastructure component reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Controller Controller

	// History serves the event and call logs. Optional.
	History audit.Repository

	// Hub is shared with the coordinator as an event sink. Optional; the
	// server creates its own when nil.
	Hub *Hub

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Checks are reported by name on /health.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP API of the door station.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	ctl        Controller
	history    audit.Repository
	gatherer   prometheus.Gatherer
	checks     map[string]HealthChecker
	version    string
	hub        *Hub
	server     *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	serveError chan error
}

// New creates a server. It does not listen until Start.
//
// Returns:
//   - *Server: ready to start
//   - error: if the logger or controller is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	if deps.WS.PingInterval <= 0 {
		deps.WS.PingInterval = defaultPingInterval
	}
	if deps.WS.PongTimeout <= 0 {
		deps.WS.PongTimeout = defaultPongTimeout
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		ctl:        deps.Controller,
		history:    deps.History,
		gatherer:   deps.Gatherer,
		checks:     deps.Checks,
		version:    deps.Version,
		hub:        deps.Hub,
		serveError: make(chan error, 1),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for registration as an event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without listening.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background.
//
// Returns:
//   - error: if the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String())
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.serveError <- err
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting requests, waits up to 10 seconds for in-flight
// ones and disconnects WebSocket clients.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports a serve failure after Start.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	case err := <-s.serveError:
		s.serveError <- err
		return fmt.Errorf("api server stopped: %w", err)
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
