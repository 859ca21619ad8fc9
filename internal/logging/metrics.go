// internal/logging/metrics.go
package logging

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

const metricsNamespace = "corrlog"

// metrics counts emitted records and transport write failures.
type metrics struct {
	records      *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_records_total",
			Help:      "Log records accepted by the logger, by level.",
		}, []string{"level"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_sink_failures_total",
			Help:      "Failed writes to a log transport, by sink.",
		}, []string{"sink"}),
	}
	if reg != nil {
		m.records = register(reg, m.records)
		m.sinkFailures = register(reg, m.sinkFailures)
	}
	return m
}

// register returns the already registered collector when a previous logger
// in this process registered the same metric.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) hook(e zapcore.Entry) error {
	m.records.WithLabelValues(levelName(e.Level)).Inc()
	return nil
}

// failureCountingSyncer counts write errors of a transport. The error is
// still returned so zap reports it on its error output.
type failureCountingSyncer struct {
	zapcore.WriteSyncer
	failures prometheus.Counter
}

func (m *metrics) countFailures(sink string, ws zapcore.WriteSyncer) zapcore.WriteSyncer {
	return &failureCountingSyncer{
		WriteSyncer: ws,
		failures:    m.sinkFailures.WithLabelValues(sink),
	}
}

func (s *failureCountingSyncer) Write(p []byte) (int, error) {
	n, err := s.WriteSyncer.Write(p)
	if err != nil {
		s.failures.Inc()
	}
	return n, err
}
