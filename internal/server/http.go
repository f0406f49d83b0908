package server

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"llmrouter/config"
	"llmrouter/internal/core"
)

const requestIDHeader = "X-Request-ID"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string       // Optional: Master key for authentication
	MetricsEnabled  bool         // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string       // HTTP path for metrics endpoint (default: /metrics)
	MetricsHandler  http.Handler // Serves the metrics endpoint
	BodySizeLimit   int64        // Max request body size in bytes (default: 10MB)
}

// New creates a new HTTP server
func New(router Router, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(router)

	authSkipPaths := []string{"/health", "/ready"}

	metricsPath := "/metrics"
	metricsEnabled := cfg.MetricsEnabled && cfg.MetricsHandler != nil
	if metricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: requestIDHeader,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(requestLoggerConfig()))
	e.Use(middleware.Recover())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	e.GET("/ready", handler.Ready)
	if metricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}

	// API routes
	e.POST("/v1/generate", handler.Generate)

	admin := e.Group("/admin/api/v1")
	admin.GET("/providers", handler.ListProviders)
	admin.POST("/providers/refresh", handler.RefreshProviders)
	admin.PUT("/providers/:key/model", handler.UpdateProviderModel)
	admin.POST("/providers/:key/test", handler.TestProvider)
	admin.POST("/probe", handler.Probe)
	admin.DELETE("/cache", handler.ClearCache)
	admin.GET("/usage", handler.Usage)
	admin.POST("/usage/:key/reset", handler.ResetUsage)
	admin.GET("/weights", handler.GetWeights)
	admin.PUT("/weights", handler.SetWeights)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
