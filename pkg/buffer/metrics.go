package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/promotion0824/TwinPlatform-sub045/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	size     prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &queueMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "enqueued_total",
			ConstLabels: labels,
			Help:        "Total number of items enqueued",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "dequeued_total",
			ConstLabels: labels,
			Help:        "Total number of items dequeued",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of queued items",
		}),
	}

	if err := registry.Register(prefix, "queue_enqueued", m.enqueued); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "queue_dequeued", m.dequeued); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) recordEnqueue(size int) {
	m.enqueued.Inc()
	m.size.Set(float64(size))
}

func (m *queueMetrics) recordDequeue(n, size int) {
	m.dequeued.Add(float64(n))
	m.size.Set(float64(size))
}
