// Package api provides the HTTP REST API and WebSocket server for the DCT bridge.
//
// It exposes the recorder state, the variable projection, feedback queries
// and the action table to show-control consoles and operator tools that do
// not speak MQTT.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dct/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthSource reports the bridge health. *dct.HealthReporter satisfies it.
type HealthSource interface {
	Status() (dct.HealthStatus, string)
}

// JournalReader lists command journal entries. *journal.SQLiteRepository
// satisfies it.
type JournalReader interface {
	List(ctx context.Context, filter journal.Filter) (*journal.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Device dct.Controller

	// Optional collaborators. Endpoints that need a missing one answer 503.
	Health   HealthSource
	Journal  JournalReader
	DB       *database.DB
	Gatherer prometheus.Gatherer

	// UnusedBufferText labels buffers without content in the variables.
	UnusedBufferText string
	Version          string
}

// Server is the HTTP API server for the DCT bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	device     dct.Controller
	health     HealthSource
	journal    JournalReader
	db         *database.DB
	gatherer   prometheus.Gatherer
	unusedText string
	version    string
	startTime  time.Time

	limiter *rate.Limiter // nil when rate limiting is disabled
	hub     *Hub
	server  *http.Server
	cancel  context.CancelFunc

	streamOnce sync.Once
	varsMu     sync.Mutex
	lastVars   map[string]string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, device controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device controller is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		device:     deps.Device,
		health:     deps.Health,
		journal:    deps.Journal,
		db:         deps.DB,
		gatherer:   gatherer,
		unusedText: deps.UnusedBufferText,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Config.WebSocket, deps.Logger),
	}

	if rl := deps.Config.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		burst := max(1, rl.RequestsPerMinute/60) //nolint:mnd // one second's worth of requests
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.RequestsPerMinute)), burst)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to device state changes for the
// variable stream, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub; the listener runs until Close
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.startStreams(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startStreams runs the hub and relays device state to it. It only takes
// effect once.
func (s *Server) startStreams(ctx context.Context) {
	s.streamOnce.Do(func() {
		go s.hub.Run(ctx)
		s.device.Subscribe(s.onDeviceState)
	})
}

// onDeviceState broadcasts every state change and, when the projection
// changed, the new variables.
func (s *Server) onDeviceState(st dct.DeviceState) {
	s.hub.Broadcast(ChannelState, st)

	vars := dct.Variables(st, s.unusedText)
	s.varsMu.Lock()
	changed := !maps.Equal(vars, s.lastVars)
	if changed {
		s.lastVars = vars
	}
	s.varsMu.Unlock()

	if changed {
		s.hub.Broadcast(ChannelVariables, vars)
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck verifies the API server is running and responsive.
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
