// Package server exposes the route engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/server/handler"
	"github.com/alanyoungcy/routeengine/internal/server/middleware"
	"github.com/alanyoungcy/routeengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client IP. Zero or a nil
	// Limiter disables rate limiting.
	RateLimit    int
	Limiter      domain.RateLimiter
	Recorder     middleware.RequestRecorder
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Segments   *handler.SegmentHandler
	Routes     *handler.RouteHandler
	Executions *handler.ExecutionHandler
	// Metrics serves the Prometheus exposition; nil leaves it unmounted.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in auth, rate limiting,
// logging and CORS, outermost last.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	public := []string{"/healthz"}
	if handlers.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, handlers.Metrics)
		public = append(public, path)
	}

	mux.HandleFunc("GET /api/segments", handlers.Segments.ListSegments)
	mux.HandleFunc("POST /api/segments", handlers.Segments.IngestSegments)

	mux.HandleFunc("GET /api/routes/optimal", handlers.Routes.Optimal)
	mux.HandleFunc("GET /api/routes/top", handlers.Routes.Top)

	mux.HandleFunc("GET /api/executions", handlers.Executions.ListExecutions)
	mux.HandleFunc("POST /api/executions", handlers.Executions.StartExecution)
	mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.GetExecution)
	mux.HandleFunc("GET /api/executions/{id}/result", handlers.Executions.GetResult)
	mux.HandleFunc("POST /api/executions/{id}/pause", handlers.Executions.Pause)
	mux.HandleFunc("POST /api/executions/{id}/resume", handlers.Executions.Resume)
	mux.HandleFunc("POST /api/executions/{id}/cancel", handlers.Executions.Cancel)
	mux.HandleFunc("POST /api/executions/{id}/reroute", handlers.Executions.Reroute)
	mux.HandleFunc("POST /api/executions/{id}/modify", handlers.Executions.Modify)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, public...)(h)
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Logging(logger, cfg.Recorder)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
