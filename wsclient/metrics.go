package wsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/previewsync/metric"
)

// Metrics holds Prometheus metrics for the connection manager. A nil
// *Metrics is fully functional: every record method is a no-op, so the
// manager never nil-checks at call sites.
type Metrics struct {
	connectsTotal      prometheus.Counter
	reconnectsTotal    prometheus.Counter
	envelopesSent      *prometheus.CounterVec
	envelopesReceived  *prometheus.CounterVec
	envelopesQueued    prometheus.Counter
	queueDroppedTotal  prometheus.Counter
	queueDepth         prometheus.Gauge
	protocolErrorsTot  prometheus.Counter
	heartbeatsSentTot  prometheus.Counter
}

// newMetrics creates and registers manager metrics. Returns nil when no
// registry is provided.
func newMetrics(registry *metric.Registry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"provider": name}

	m := &Metrics{
		connectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "connects_total",
			Help:        "Total successful connection establishments",
			ConstLabels: labels,
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "reconnects_total",
			Help:        "Total reconnect attempts",
			ConstLabels: labels,
		}),
		envelopesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "envelopes_sent_total",
			Help:        "Total envelopes transmitted, by type",
			ConstLabels: labels,
		}, []string{"type"}),
		envelopesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "envelopes_received_total",
			Help:        "Total envelopes received, by type",
			ConstLabels: labels,
		}, []string{"type"}),
		envelopesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "envelopes_queued_total",
			Help:        "Total envelopes buffered while offline",
			ConstLabels: labels,
		}),
		queueDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "queue_dropped_total",
			Help:        "Total envelopes evicted from the offline queue",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "queue_depth",
			Help:        "Current offline queue depth",
			ConstLabels: labels,
		}),
		protocolErrorsTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "protocol_errors_total",
			Help:        "Total malformed inbound frames dropped",
			ConstLabels: labels,
		}),
		heartbeatsSentTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "wsclient",
			Name:        "heartbeats_sent_total",
			Help:        "Total heartbeat pings sent",
			ConstLabels: labels,
		}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"connects_total", m.connectsTotal},
		{"reconnects_total", m.reconnectsTotal},
		{"envelopes_sent_total", m.envelopesSent},
		{"envelopes_received_total", m.envelopesReceived},
		{"envelopes_queued_total", m.envelopesQueued},
		{"queue_dropped_total", m.queueDroppedTotal},
		{"queue_depth", m.queueDepth},
		{"protocol_errors_total", m.protocolErrorsTot},
		{"heartbeats_sent_total", m.heartbeatsSentTot},
	}
	for _, reg := range registrations {
		if err := registry.Register(name+".wsclient", reg.name, reg.collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordConnect() {
	if m == nil {
		return
	}
	m.connectsTotal.Inc()
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) recordSent(envType string) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(envType).Inc()
}

func (m *Metrics) recordReceived(envType string) {
	if m == nil {
		return
	}
	m.envelopesReceived.WithLabelValues(envType).Inc()
}

func (m *Metrics) recordQueued(depth int) {
	if m == nil {
		return
	}
	m.envelopesQueued.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) recordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) recordQueueDrop() {
	if m == nil {
		return
	}
	m.queueDroppedTotal.Inc()
}

func (m *Metrics) recordProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrorsTot.Inc()
}

func (m *Metrics) recordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsSentTot.Inc()
}
