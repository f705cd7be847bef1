package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics shared by the twin reader,
// the cache provider and the ingestion pipeline.
type Metrics struct {
	// Remote twin store
	RemoteCalls        *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec

	// Cache generations
	CacheGeneration    prometheus.Gauge
	CacheBuildDuration prometheus.Histogram
	CacheBuildFailures prometheus.Counter

	// Ingestion
	RowsIngested   *prometheus.CounterVec
	RowsDropped    *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec
	FlushDuration  prometheus.Histogram

	// NATS
	NATSConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RemoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "twin_remote",
				Name:      "calls_total",
				Help:      "Total number of calls made to the remote twin store",
			},
			[]string{"operation", "status"},
		),

		RemoteCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "twin_remote",
				Name:      "call_duration_seconds",
				Help:      "Remote twin store call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "twin_cache",
				Name:      "generation",
				Help:      "Number of the twin cache generation currently served",
			},
		),

		CacheBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "twin_cache",
				Name:      "build_duration_seconds",
				Help:      "Time spent building a twin cache generation",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
		),

		CacheBuildFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "twin_cache",
				Name:      "build_failures_total",
				Help:      "Total number of failed twin cache generation builds",
			},
		),

		RowsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Total number of rows sent to the analytical store",
			},
			[]string{"table"},
		),

		RowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "rows_dropped_total",
				Help:      "Total number of queued rows dropped while building a table",
			},
			[]string{"table"},
		),

		IngestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "failures_total",
				Help:      "Total number of ingestion calls that failed after retries",
			},
			[]string{"operation"},
		),

		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "flush_duration_seconds",
				Help:      "Local store flush duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RemoteCalls,
		c.RemoteCallDuration,
		c.CacheGeneration,
		c.CacheBuildDuration,
		c.CacheBuildFailures,
		c.RowsIngested,
		c.RowsDropped,
		c.IngestFailures,
		c.FlushDuration,
		c.NATSConnected,
	}
}

// RecordRemoteCall counts a remote twin store call and its latency
func (c *Metrics) RecordRemoteCall(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.RemoteCalls.WithLabelValues(operation, status).Inc()
	c.RemoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheBuild records the outcome of a cache generation build
func (c *Metrics) RecordCacheBuild(generation uint64, err error, duration time.Duration) {
	if err != nil {
		c.CacheBuildFailures.Inc()
		return
	}
	c.CacheGeneration.Set(float64(generation))
	c.CacheBuildDuration.Observe(duration.Seconds())
}

// RecordRowsIngested adds rows sent for a table
func (c *Metrics) RecordRowsIngested(table string, rows int) {
	c.RowsIngested.WithLabelValues(table).Add(float64(rows))
}

// RecordRowDropped counts a row dropped while materializing a table
func (c *Metrics) RecordRowDropped(table string) {
	c.RowsDropped.WithLabelValues(table).Inc()
}

// RecordIngestFailure counts an ingestion call that exhausted its retries
func (c *Metrics) RecordIngestFailure(operation string) {
	c.IngestFailures.WithLabelValues(operation).Inc()
}

// RecordFlush records a flush duration
func (c *Metrics) RecordFlush(duration time.Duration) {
	c.FlushDuration.Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
