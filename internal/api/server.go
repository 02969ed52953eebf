package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/ysmr3104/atomcam-meteor-detector/internal/api/middleware"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/scheduler"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/tasks"
)

// Orchestrator is the part of the pipeline the background tasks drive
type Orchestrator interface {
	RedetectFromLocal(ctx context.Context, date string, progress pipeline.ProgressFunc) (*pipeline.Result, error)
	RebuildComposite(ctx context.Context, date string) (*pipeline.Result, error)
	RebuildConcatenation(ctx context.Context, date string) (*pipeline.Result, error)
}

// OrchestratorFactory builds a pipeline with the current detection settings
type OrchestratorFactory func(ctx context.Context) (Orchestrator, error)

// StatusProvider reports the scheduler state
type StatusProvider interface {
	Status() scheduler.Status
}

// PlanResolver resolves the effective schedule shown by the settings endpoint
type PlanResolver interface {
	Resolve(ctx context.Context, obsDate time.Time) (schedule.Plan, error)
	Location() *time.Location
}

// Server is the HTTP server exposing the JSON API.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	store     *datastore.Store
	tasks     *tasks.Manager
	pipelines OrchestratorFactory
	scheduler StatusProvider
	resolver  PlanResolver
	metrics   *observability.Metrics
	build     *buildinfo.Context
	lockPath  string
	now       func() time.Time

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithStore sets the datastore.
func WithStore(store *datastore.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithTasks sets the background task manager.
func WithTasks(m *tasks.Manager) ServerOption {
	return func(s *Server) { s.tasks = m }
}

// WithPipelines sets the factory used by redetect and rebuild tasks.
func WithPipelines(f OrchestratorFactory) ServerOption {
	return func(s *Server) { s.pipelines = f }
}

// WithScheduler exposes the scheduler status.
func WithScheduler(p StatusProvider) ServerOption {
	return func(s *Server) { s.scheduler = p }
}

// WithResolver sets the schedule resolver.
func WithResolver(r PlanResolver) ServerOption {
	return func(s *Server) { s.resolver = r }
}

// WithMetrics serves the registry on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBuildInfo sets the version reported by the health endpoint.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) { s.build = b }
}

// WithLockPath makes background tasks hold the process lock while they run.
func WithLockPath(path string) ServerOption {
	return func(s *Server) { s.lockPath = path }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		log:       GetLogger(),
		now:       time.Now,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		return nil, fmt.Errorf("api server requires a datastore")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("metrics", s.metricsEnabled()))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.log))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) metricsEnabled() bool {
	return s.config.Metrics && s.metrics != nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metricsEnabled() {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.echo.Static("/files", s.settings.Paths.ResolveOutputDir())

	g := s.echo.Group("/api/v1")
	s.initNightRoutes(g)
	s.initClipRoutes(g)
	s.initTaskRoutes(g)
	s.initSettingsRoutes(g)
	g.GET("/scheduler", s.getScheduler)
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Address()
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("shutting down HTTP server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	dbStatus := "connected"
	if err := s.store.Ping(c.Request().Context()); err != nil {
		dbStatus = "unavailable"
	}

	status := http.StatusOK
	health := "healthy"
	if dbStatus != "connected" {
		status = http.StatusServiceUnavailable
		health = "degraded"
	}

	return c.JSON(status, map[string]any{
		"status":          health,
		"version":         s.build.GetVersion(),
		"build_date":      s.build.GetBuildDate(),
		"database_status": dbStatus,
		"uptime":          uptime.String(),
		"uptime_seconds":  uptime.Seconds(),
		"timestamp":       s.now().Format(time.RFC3339),
	})
}

func (s *Server) getScheduler(c echo.Context) error {
	if s.scheduler == nil {
		return c.JSON(http.StatusOK, map[string]any{"running": false})
	}
	return c.JSON(http.StatusOK, s.scheduler.Status())
}
