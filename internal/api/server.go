package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/audit"
	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
	"github.com/openctl/ctrlgraph/internal/infrastructure/logging"
	"github.com/openctl/ctrlgraph/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports whether a backing component is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Schema  graphql.Schema
	Guard   *session.Guard
	Audit   *audit.Repository // optional: nil disables the audit endpoint
	Health  map[string]HealthChecker
	Version string
}

// Server is the HTTP and WebSocket server for ctrlgraph.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// subscription connections. Created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	schema  graphql.Schema
	guard   *session.Guard
	audit   *audit.Repository
	health  map[string]HealthChecker
	version string

	server *http.Server
	conns  *connSet
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("session guard is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		schema:  deps.Schema,
		guard:   deps.Guard,
		audit:   deps.Audit,
		health:  deps.Health,
		version: deps.Version,
		conns:   newConnSet(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.conns.ctx = srvCtx

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// WebSocket connections are closed first so their subscription
// registrations release deterministically, then the listener drains
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.conns.closeAll()

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
