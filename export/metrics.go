package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/previewsync/metric"
)

// Metrics holds Prometheus metrics for the export orchestrator. A nil
// *Metrics is fully functional: every record method is a no-op.
type Metrics struct {
	exportsTotal   *prometheus.CounterVec
	exportDuration prometheus.Histogram
}

// newMetrics creates and registers orchestrator metrics. Returns nil
// when no registry is provided.
func newMetrics(registry *metric.Registry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"provider": name}

	m := &Metrics{
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "export",
			Name:        "exports_total",
			Help:        "Total export jobs by terminal result",
			ConstLabels: labels,
		}, []string{"result"}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "export",
			Name:        "export_duration_seconds",
			Help:        "Duration of successful export jobs",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"exports_total", m.exportsTotal},
		{"export_duration_seconds", m.exportDuration},
	}
	for _, reg := range registrations {
		if err := registry.Register(name+".export", reg.name, reg.collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordExport(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.exportDuration.Observe(duration.Seconds())
	}
}
