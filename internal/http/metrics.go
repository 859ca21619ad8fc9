package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds request counters exposed on /metrics.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	now            func() time.Time
}

// NewHTTPMetrics registers the HTTP collectors with reg. Collectors already
// registered by an earlier server are reused.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &HTTPMetrics{now: time.Now}

	m.requestsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corrlog",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"}))

	m.requestDur = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corrlog",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds by method and endpoint.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "endpoint"}))

	m.activeRequests = registerCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corrlog",
		Subsystem: "http",
		Name:      "active_requests",
		Help:      "Number of currently active HTTP requests.",
	}))

	return m
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
// Handler errors are resolved to a response before the status is recorded.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := m.now()
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			endpoint := normalizePath(c.Path())
			method := c.Request().Method
			m.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Response().Status)).Inc()
			m.requestDur.WithLabelValues(method, endpoint).Observe(m.now().Sub(start).Seconds())
			return nil
		}
	}
}

// normalizePath maps unmatched requests onto one label value so that
// scanners probing random URLs do not grow the series count.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
