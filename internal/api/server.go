package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/bridge"
	"github.com/nerrad567/atagone-core/internal/infrastructure/config"
	"github.com/nerrad567/atagone-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Device is the controller as the API sees it. *atagone.Device satisfies it.
type Device interface {
	GetReport(ctx context.Context) (*atagone.RetrieveReply, error)
	GetDeviceID(ctx context.Context) (string, error)
	UpdateControl(ctx context.Context, control atagone.Control) error
	Endpoint() atagone.Endpoint
	CachedReport() (*atagone.RetrieveReply, time.Time, bool)
	DiscoveryStats() atagone.ListenerStats
}

// HealthProvider reports bridge health. *bridge.Bridge satisfies it.
type HealthProvider interface {
	Health() bridge.HealthMessage
}

// Refresher requests an early poll. *bridge.Poller satisfies it.
type Refresher interface {
	Trigger()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Thermostat config.ThermostatConfig
	Logger     *logging.Logger
	Device     Device

	// Optional.
	Hub       *Hub
	Metrics   *Metrics
	Health    HealthProvider
	Refresher Refresher
	Version   string
}

// Server is the HTTP API server for Atag One Core.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	thermostat config.ThermostatConfig
	logger     *logging.Logger
	device     Device
	hub        *Hub
	metrics    *Metrics
	health     HealthProvider
	refresher  Refresher
	version    string
	startTime  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if deps.Thermostat.MinTarget == 0 && deps.Thermostat.MaxTarget == 0 {
		deps.Thermostat.MinTarget = bridge.DefaultMinTarget
		deps.Thermostat.MaxTarget = bridge.DefaultMaxTarget
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		thermostat: deps.Thermostat,
		logger:     deps.Logger,
		device:     deps.Device,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		health:     deps.Health,
		refresher:  deps.Refresher,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring it as a report sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.listener, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
