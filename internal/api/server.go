package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/meterpoll/internal/command"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/infrastructure/logging"
	"github.com/nerrad567/meterpoll/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Poller is what the API needs from the scheduler.
type Poller interface {
	command.Commander
	Snapshot() poller.Snapshot
}

// ConnectionStatus reports whether an optional backend is reachable.
// *mqtt.Client and *influxdb.Client implement it.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBStatsProvider exposes connection pool statistics. *database.DB implements it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Poller  Poller
	Hub     *Hub             // If set, the server uses this hub instead of creating its own
	MQTT    ConnectionStatus // optional
	Influx  ConnectionStatus // optional
	DB      DBStatsProvider  // optional
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	poller      Poller
	mqtt        ConnectionStatus
	influx      ConnectionStatus
	db          DBStatsProvider
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		poller:    deps.Poller,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The hub is usually created first so the scheduler can publish to it.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
		if s.hub.commands() == nil {
			s.hub.SetDispatcher(command.NewDispatcher(deps.Poller))
		}
	} else {
		s.hub = NewHub(deps.WS, deps.Logger, command.NewDispatcher(deps.Poller))
	}
	s.hub.SetSnapshotSource(deps.Poller.Snapshot)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router; useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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
