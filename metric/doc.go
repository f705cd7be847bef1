// Package metric provides the Prometheus registry and HTTP endpoint shared by
// the twin platform components.
//
// The registry always carries the core platform metrics (remote twin store
// calls, cache generations, ingestion throughput, NATS status). Components
// register their own collectors with Register, keyed by component name so
// that two components may use the same short name without clashing in the
// bookkeeping.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, provider.IsCacheReady)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordRowsIngested("Telemetry", 50)
//
// The server exposes /metrics, /health (liveness) and /ready, which reports
// 503 until the ReadyFunc returns true. Mount adds further handlers; the
// binary mounts the aggregated health report over /health.
package metric
