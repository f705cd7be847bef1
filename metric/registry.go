package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

// Namespace prefixes every metric exported by the platform.
const Namespace = "twinplatform"

// Registerer adds and removes component collectors. Collectors are keyed
// by component and name so two components may use the same short name.
type Registerer interface {
	Register(component, name string, collector prometheus.Collector) error
	Unregister(component, name string) bool
}

// MetricsRegistry owns the Prometheus registry, the core platform metrics
// and the collectors components register at runtime.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core platform metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.prometheusRegistry.MustRegister(registry.Metrics.collectors()...)

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core platform metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func key(component, name string) string {
	return component + "." + name
}

// Register adds collector under component and name. Registering a key twice
// or a collector whose descriptors clash with an existing one is an invalid
// error; any other Prometheus failure is fatal.
func (r *MetricsRegistry) Register(component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(component, name)
	if _, exists := r.registeredMetrics[k]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, component),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var conflict prometheus.AlreadyRegisteredError
		if stderrors.As(err, &conflict) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			fmt.Sprintf("register %s with prometheus", k))
	}

	r.registeredMetrics[k] = collector
	return nil
}

// Unregister removes a metric registered under component and name.
func (r *MetricsRegistry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(component, name)
	collector, exists := r.registeredMetrics[k]
	if !exists || !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.registeredMetrics, k)
	return true
}

// Registered returns the sorted keys of all component metrics.
func (r *MetricsRegistry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.registeredMetrics))
	for k := range r.registeredMetrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
