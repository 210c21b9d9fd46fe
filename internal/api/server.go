package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/irdetect/autoannotate/internal/api/middleware"
	v1 "github.com/irdetect/autoannotate/internal/api/v1"
	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability"
)

// Server is the HTTP server of the dataset service.
type Server struct {
	config *Config
	echo   *echo.Echo
	log    logger.Logger

	metrics      *observability.Metrics
	apiOptions   []v1.Option
	controller   *v1.Controller
	staticServer *StaticFileServer

	startTime time.Time
	wg        sync.WaitGroup
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMetrics enables HTTP metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAPIOptions passes options through to the API controller.
func WithAPIOptions(opts ...v1.Option) ServerOption {
	return func(s *Server) { s.apiOptions = append(s.apiOptions, opts...) }
}

// New builds the echo instance, its middleware and every route.
func New(config *Config, store *dataset.Store, models v1.ModelCatalog, runner *inference.Runner, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("invalid server configuration: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(store, models, runner); err != nil {
		return nil, err
	}

	s.log.Info("HTTP server initialized", logger.String("config", config.String()))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(middleware.NewRequestLoggerWithSkipper(s.log.Module("http"), func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))
	if s.metrics != nil {
		s.echo.Use(middleware.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(echomw.CORS())
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// setupRoutes registers the API, metrics and static routes.
func (s *Server) setupRoutes(store *dataset.Store, models v1.ModelCatalog, runner *inference.Runner) error {
	opts := append([]v1.Option{v1.WithLogger(s.log.Module("v1"))}, s.apiOptions...)
	if s.metrics != nil {
		opts = append(opts, v1.WithMetrics(s.metrics))
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.controller = v1.New(s.echo, store, models, runner, opts...)
	s.echo.HTTPErrorHandler = s.controller.HTTPErrorHandler

	static, err := NewStaticFileServer(s.config.StaticDir, s.log)
	if err != nil {
		return errors.New(fmt.Errorf("failed to open static directory: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Context("dir", s.config.StaticDir).
			Build()
	}
	if static != nil {
		static.RegisterRoutes(s.echo)
		s.staticServer = static
	}
	return nil
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately.
func (s *Server) Start() {
	s.wg.Go(func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("Server error", logger.Error(err))
		}
	})
}

// startBlocking serves until the server is shut down.
func (s *Server) startBlocking() error {
	s.log.Info("Starting HTTP server", logger.String("address", s.config.Listen))
	err := s.echo.Start(s.config.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and shuts it down on SIGINT or SIGTERM.
func (s *Server) StartWithGracefulShutdown() error {
	s.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	<-quit

	s.log.Info("Shutdown signal received, initiating graceful shutdown")
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones, including
// open inference streams, up to the shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("Error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()

	if err := s.staticServer.Close(); err != nil {
		s.log.Warn("Failed to close static directory", logger.Error(err))
	}

	s.log.Info("Server shutdown complete", logger.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Controller returns the API controller.
func (s *Server) Controller() *v1.Controller {
	return s.controller
}
