package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.POST("/api/v1/logs", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})

	for i := 0; i < 2; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/logs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	expected := `
# HELP corrlog_http_requests_total Total HTTP requests by method, endpoint and status code.
# TYPE corrlog_http_requests_total counter
corrlog_http_requests_total{endpoint="/api/v1/logs",method="POST",status="400"} 1
corrlog_http_requests_total{endpoint="/test",method="GET",status="200"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "corrlog_http_requests_total"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRequests))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDur))
}

func TestNewHTTPMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewHTTPMetrics(reg)
	second := NewHTTPMetrics(reg)

	assert.Same(t, first.requestsTotal, second.requestsTotal)
	assert.Same(t, first.requestDur, second.requestDur)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/api/v1/logs", normalizePath("/api/v1/logs"))
}
