package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/audit"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource exposes device health and last snapshots. *device.Registry satisfies it.
type DeviceSource interface {
	Statuses() []device.Status
	GetStats() device.Stats
}

// AlertSource exposes the alert state machine. *alert.Engine satisfies it.
type AlertSource interface {
	States() []alert.Record
}

// ControlSource exposes locks and recent decisions. *control.Engine satisfies it.
type ControlSource interface {
	Locks(now time.Time) []control.Lock
	Decisions() []control.Decision
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatter reports connection pool statistics. *database.DB satisfies it.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Devices  DeviceSource
	Alerts   AlertSource
	Control  ControlSource
	Audit    audit.Repository // optional: /api/v1/audit returns 503 without it
	Metrics  http.Handler     // optional: Prometheus exposition for /metrics
	DB       DBStatter        // optional: pool stats in /api/v1/system
	Checks   map[string]HealthChecker
	Hub      *Hub // optional: created by New when nil
	Version  string
}

// Server is the ops HTTP server: health, Prometheus metrics, read-only
// plant state and the live event stream.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	devices   DeviceSource
	alerts    AlertSource
	control   ControlSource
	auditRepo audit.Repository
	metrics   http.Handler
	db        DBStatter
	checks    map[string]HealthChecker
	hub       *Hub
	tickets   *ticketStore
	version   string
	startTime time.Time
	now       func() time.Time

	server *http.Server
	addr   string
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil || deps.Alerts == nil || deps.Control == nil {
		return nil, fmt.Errorf("device, alert and control sources are required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		devices:   deps.Devices,
		alerts:    deps.Alerts,
		control:   deps.Control,
		auditRepo: deps.Audit,
		metrics:   deps.Metrics,
		db:        deps.DB,
		checks:    deps.Checks,
		hub:       hub,
		tickets:   newTicketStore(),
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
	}, nil
}

// Hub returns the WebSocket hub so the relay can broadcast into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the hub and ticket cleanup goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("API server listening", "address", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	return s.addr
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

// HealthCheck reports whether the server has been started.
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
