package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PatchDiscovery/internal/domain"
)

// RunController is the surface the HTTP boundary drives.
type RunController interface {
	Start() error
	Pause() bool
	Resume() bool
	Stop() bool
	Refresh(ctx context.Context) error
	State() domain.RunState
	Items() []domain.DiscoveredItem
	Subscribe() (<-chan struct{}, func())
}

// Options tune the server. Zero values pick defaults.
type Options struct {
	Heartbeat      time.Duration
	RefreshTimeout time.Duration
}

// Server exposes the run controller over JSON and an SSE state feed.
type Server struct {
	echo      *echo.Echo
	ctrl      RunController
	logger    *slog.Logger
	heartbeat time.Duration
	refresh   time.Duration
}

type actionResponse struct {
	Applied bool            `json:"applied"`
	State   domain.RunState `json:"state"`
}

type itemsResponse struct {
	Success bool                    `json:"success"`
	Items   []domain.DiscoveredItem `json:"items"`
}

type errorResponse struct {
	Error string          `json:"error"`
	State domain.RunState `json:"state"`
}

// New builds the server and registers its routes.
func New(ctrl RunController, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, ctrl: ctrl, logger: logger, heartbeat: opts.Heartbeat, refresh: opts.RefreshTimeout}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Debug("request", attrs...)
			return nil
		},
	}))

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/items", s.handleItems)
	api.GET("/stream", s.handleStream)

	run := api.Group("/run")
	run.POST("/start", s.handleStart)
	run.POST("/pause", s.handleToggle(s.ctrl.Pause))
	run.POST("/resume", s.handleToggle(s.ctrl.Resume))
	run.POST("/stop", s.handleToggle(s.ctrl.Stop))
	run.POST("/refresh", s.handleRefresh)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.State())
}

func (s *Server) handleItems(c echo.Context) error {
	items := s.ctrl.Items()
	if items == nil {
		items = []domain.DiscoveredItem{}
	}
	return c.JSON(http.StatusOK, itemsResponse{Success: true, Items: items})
}

func (s *Server) handleStart(c echo.Context) error {
	if err := s.ctrl.Start(); err != nil {
		s.logger.Error("start run failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), State: s.ctrl.State()})
	}
	return c.JSON(http.StatusAccepted, actionResponse{Applied: true, State: s.ctrl.State()})
}

// handleToggle wraps pause/resume/stop. A no-op is answered with applied=false, not an error.
func (s *Server) handleToggle(op func() bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		applied := op()
		return c.JSON(http.StatusOK, actionResponse{Applied: applied, State: s.ctrl.State()})
	}
}

func (s *Server) handleRefresh(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.refresh)
	defer cancel()

	if err := s.ctrl.Refresh(ctx); err != nil {
		s.logger.Warn("refresh failed", "error", err)
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error(), State: s.ctrl.State()})
	}
	return c.JSON(http.StatusOK, actionResponse{Applied: true, State: s.ctrl.State()})
}
