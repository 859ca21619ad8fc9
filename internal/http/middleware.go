package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/corrlog/internal/correlation"
	"github.com/fyrsmithlabs/corrlog/internal/logging"
)

// Request headers understood by CorrelationMiddleware.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
)

// UserResolver extracts the authenticated principal from a request.
// An empty result leaves the scope without a user id.
type UserResolver func(*http.Request) string

// HeaderUserResolver reads the X-User-ID header.
func HeaderUserResolver(r *http.Request) string {
	return r.Header.Get(HeaderUserID)
}

type middlewareConfig struct {
	resolveUser UserResolver
	tracer      trace.Tracer
	now         func() time.Time
}

// MiddlewareOption configures CorrelationMiddleware.
type MiddlewareOption func(*middlewareConfig)

// WithUserResolver replaces HeaderUserResolver.
func WithUserResolver(fn UserResolver) MiddlewareOption {
	return func(c *middlewareConfig) { c.resolveUser = fn }
}

// WithTracer starts a server span per request so records carry its trace ids.
func WithTracer(t trace.Tracer) MiddlewareOption {
	return func(c *middlewareConfig) { c.tracer = t }
}

// WithNow overrides the clock used for request durations.
func WithNow(now func() time.Time) MiddlewareOption {
	return func(c *middlewareConfig) { c.now = now }
}

// CorrelationMiddleware gives every request its own correlation scope.
//
// The id comes from X-Correlation-ID, then X-Request-ID, and is generated
// when neither is present. It is echoed back in the X-Correlation-ID response
// header. Inbound W3C trace context is extracted so upstream trace ids reach
// the records. One "http request" entry is written when the handler returns.
func CorrelationMiddleware(logger *logging.Logger, opts ...MiddlewareOption) echo.MiddlewareFunc {
	cfg := &middlewareConfig{
		resolveUser: HeaderUserResolver,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := cfg.now()

			id := req.Header.Get(HeaderCorrelationID)
			if id == "" {
				id = req.Header.Get(echo.HeaderXRequestID)
			}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx = correlation.NewScope(ctx, id)
			ctx = logging.WithLogger(ctx, logger)
			if user := cfg.resolveUser(req); user != "" {
				correlation.SetUserID(ctx, user)
			}

			if cfg.tracer != nil {
				var span trace.Span
				ctx, span = cfg.tracer.Start(ctx, req.Method+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
				defer span.End()
			}

			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(HeaderCorrelationID, correlation.CorrelationID(ctx))

			// Resolve the error here so the logged status is the one sent.
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			meta := logging.Metadata{
				"method":      req.Method,
				"uri":         req.RequestURI,
				"status":      status,
				"duration_ms": cfg.now().Sub(start).Milliseconds(),
			}
			if status >= http.StatusInternalServerError {
				logger.Error(ctx, "http request", err, meta)
			} else {
				logger.Info(ctx, "http request", meta)
			}
			return nil
		}
	}
}
