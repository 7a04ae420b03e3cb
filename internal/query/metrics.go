package query

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"kernscope/internal/errors"
)

// Metrics are per-run query counters and latencies.
type Metrics struct {
	registry *prometheus.Registry

	// queries counts executed operations.
	// Labels: op, code (ok or an error code)
	queries *prometheus.CounterVec

	// latency measures operation wall time.
	// Labels: op
	latency *prometheus.HistogramVec

	// partial counts scans cut short by a time or match ceiling.
	// Labels: op
	partial *prometheus.CounterVec
}

// NewMetrics creates metrics in a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernscope",
			Subsystem: "query",
			Name:      "operations_total",
			Help:      "Query operations by outcome",
		}, []string{"op", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kernscope",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query operation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"op"}),
		partial: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernscope",
			Subsystem: "query",
			Name:      "partial_total",
			Help:      "Scans stopped by a time or match ceiling",
		}, []string{"op"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(op Operation, d time.Duration, err error) {
	code := "ok"
	if err != nil {
		code = string(errors.CodeOf(err))
	}
	m.queries.WithLabelValues(string(op), code).Inc()
	m.latency.WithLabelValues(string(op)).Observe(d.Seconds())
	if errors.IsCode(err, errors.Timeout) {
		m.partial.WithLabelValues(string(op)).Inc()
	}
}

// WriteText writes every metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
