// Package http serves the corrlog HTTP surface: health, Prometheus metrics and
// client log ingestion, all behind the correlation middleware.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/corrlog/internal/correlation"
	"github.com/fyrsmithlabs/corrlog/internal/logging"
	"github.com/fyrsmithlabs/corrlog/internal/telemetry"
)

// maxIngestBody caps POST /api/v1/logs payloads.
const maxIngestBody = "1M"

// Server provides HTTP endpoints for corrlog.
type Server struct {
	echo      *echo.Echo
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

type serverOptions struct {
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	telemetry   *telemetry.Telemetry
	middlewares []MiddlewareOption
}

// Option configures NewServer.
type Option func(*serverOptions)

// WithRegistry registers HTTP metrics with reg and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *serverOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithTelemetry reports telemetry health on /health and traces requests.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *serverOptions) { o.telemetry = t }
}

// WithMiddlewareOptions passes options through to CorrelationMiddleware.
func WithMiddlewareOptions(opts ...MiddlewareOption) Option {
	return func(o *serverOptions) { o.middlewares = append(o.middlewares, opts...) }
}

// NewServer creates a new HTTP server.
func NewServer(logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	o := &serverOptions{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(o)
	}

	mwOpts := o.middlewares
	if o.telemetry != nil && o.telemetry.IsEnabled() {
		mwOpts = append([]MiddlewareOption{WithTracer(o.telemetry.Tracer("corrlog/http"))}, mwOpts...)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goccySerializer{}

	e.Use(NewHTTPMetrics(o.registerer).MetricsMiddleware())
	e.Use(CorrelationMiddleware(logger, mwOpts...))
	// Inside the correlation scope, so a recovered panic is logged with its id.
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		logger:    logger,
		telemetry: o.telemetry,
		config:    cfg,
	}

	s.registerRoutes(o.gatherer)

	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/logs", s.handleIngest, middleware.BodyLimit(maxIngestBody))
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// IngestRequest is the request body for POST /api/v1/logs.
type IngestRequest struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

// IngestResponse is the response body for POST /api/v1/logs.
type IngestResponse struct {
	CorrelationID string `json:"correlationId"`
}

// handleIngest writes one client-supplied record through the logger. The
// metadata is sanitized like any other record.
func (s *Server) handleIngest(c echo.Context) error {
	ctx := c.Request().Context()

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid log ingest request", logging.Metadata{"reason": err.Error()})
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	level := zapcore.InfoLevel
	if req.Level != "" {
		var err error
		if level, err = logging.LevelFromString(req.Level); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// Panic and fatal entries would take the process down.
		if level > zapcore.ErrorLevel {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("level %q not accepted", req.Level))
		}
	}

	meta := logging.Metadata(req.Metadata)
	if meta == nil {
		meta = logging.Metadata{}
	}
	meta["source"] = "client"

	s.logger.Named("client").Log(ctx, level, req.Message, meta)

	return c.JSON(http.StatusAccepted, IngestResponse{CorrelationID: correlation.CorrelationID(ctx)})
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", logging.Metadata{"addr": addr})
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server", nil)
	return s.echo.Shutdown(ctx)
}
