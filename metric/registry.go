package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/previewsync/errors"
)

// Namespace is the Prometheus namespace shared by all previewsync metrics.
const Namespace = "previewsync"

// Registry manages the registration and lifecycle of metrics for a set
// of components. Each component registers under its own subsystem name
// so metric keys stay unique across providers.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metrics registry backed by a private
// Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Gatherer returns the registry as a prometheus.Gatherer for exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prometheusRegistry
}

// Register registers a collector under component.metricName, rejecting
// duplicate keys and Prometheus-level conflicts.
func (r *Registry) Register(component, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", metricName, component),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		// Tolerate identical re-registration from Prometheus, reject conflicts
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "Registry", "Register",
			"failed to register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric by component and name.
func (r *Registry) Unregister(component, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}

// RegisterCounter registers a counter metric for a component.
func (r *Registry) RegisterCounter(component, metricName string, counter prometheus.Counter) error {
	return r.Register(component, metricName, counter)
}

// RegisterCounterVec registers a counter vector metric for a component.
func (r *Registry) RegisterCounterVec(component, metricName string, counterVec *prometheus.CounterVec) error {
	return r.Register(component, metricName, counterVec)
}

// RegisterGauge registers a gauge metric for a component.
func (r *Registry) RegisterGauge(component, metricName string, gauge prometheus.Gauge) error {
	return r.Register(component, metricName, gauge)
}

// RegisterHistogram registers a histogram metric for a component.
func (r *Registry) RegisterHistogram(component, metricName string, histogram prometheus.Histogram) error {
	return r.Register(component, metricName, histogram)
}
