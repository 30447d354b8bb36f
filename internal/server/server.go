// Package server exposes the refinement pipeline over HTTP: runs, history,
// pipeline settings, the stage catalog and a websocket stream of state changes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/settings"
)

const (
	defaultRunTimeout   = 2 * time.Minute
	defaultEventBuffer  = 64
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Server handles HTTP requests for one orchestrator.
type Server struct {
	orchestrator *pipeline.Orchestrator
	settings     *settings.Manager
	runTimeout   time.Duration
	eventBuffer  int
	pingInterval time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	upgrader     websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithRunTimeout bounds each POST /v1/refine run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithEventBuffer sets the per-connection event buffer of /v1/events.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithPingInterval sets how often idle websocket connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithClock sets the time source used for export timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Server.
func New(orch *pipeline.Orchestrator, mgr *settings.Manager, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	if mgr == nil {
		return nil, errors.New("server: settings manager is required")
	}
	s := &Server{
		orchestrator: orch,
		settings:     mgr,
		runTimeout:   defaultRunTimeout,
		eventBuffer:  defaultEventBuffer,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/refine", s.Refine)
	e.GET("/v1/runs/active", s.ActiveRun)
	e.POST("/v1/runs/active/cancel", s.CancelRun)

	e.GET("/v1/history", s.ListHistory)
	e.DELETE("/v1/history", s.ClearHistory)
	e.GET("/v1/history/:id", s.GetHistoryEntry)

	e.GET("/v1/config", s.GetConfig)
	e.PATCH("/v1/config", s.PatchConfig)
	e.POST("/v1/config/reset", s.ResetConfig)
	e.GET("/v1/config/export", s.ExportConfig)

	e.GET("/v1/stages", s.ListStages)
	e.GET("/v1/events", s.Events)

	e.GET("/healthz", s.Health)
}

// Echo returns an echo instance with middleware and routes installed.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logging.LogEvent("[HTTP] %s %s -> %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	s.RegisterRoutes(e)
	return e
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	e := s.Echo()
	errCh := make(chan error, 1)
	go func() {
		logging.LogEvent("[HTTP] listening on %s", addr)
		errCh <- e.Start(addr)
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
	s.orchestrator.Cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.LogEvent("[HTTP] server stopped")
	return nil
}
