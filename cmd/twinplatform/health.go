package main

import (
	"fmt"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/health"
	"github.com/promotion0824/TwinPlatform-sub045/natsclient"
)

// natsState is the part of the NATS client the health check reads.
type natsState interface {
	IsHealthy() bool
	Status() natsclient.ConnectionStatus
	RTT() (time.Duration, error)
}

// cacheState is the part of the twin cache provider the health check reads.
type cacheState interface {
	IsCacheReady() bool
}

// backlog reports how many rows wait for ingestion.
type backlog interface {
	Pending() int
}

// newHealthMonitor registers checks for NATS, the twin cache and, when
// ingestion runs, the pending row backlog. A backlog above twice the flush
// threshold means flushes are failing or falling behind.
func newHealthMonitor(nats natsState, provider cacheState, rows backlog, threshold int) *health.Monitor {
	m := health.NewMonitor()

	m.RegisterCheck("nats", func() health.Status {
		if nats.IsHealthy() {
			rtt, err := nats.RTT()
			if err != nil {
				return health.NewDegraded("nats", fmt.Sprintf("connected, ping failed: %v", err))
			}
			return health.NewHealthy("nats", fmt.Sprintf("connected, rtt %s", rtt.Round(time.Microsecond)))
		}
		return health.NewUnhealthy("nats", nats.Status().String())
	})

	m.RegisterCheck("twin_cache", func() health.Status {
		if provider.IsCacheReady() {
			return health.NewHealthy("twin_cache", "cache built")
		}
		return health.NewDegraded("twin_cache", "cache not built yet")
	})

	if rows != nil {
		m.RegisterCheck("ingest", func() health.Status {
			pending := rows.Pending()
			var status health.Status
			if pending > 2*threshold {
				status = health.NewDegraded("ingest", fmt.Sprintf("%d rows pending", pending))
			} else {
				status = health.NewHealthy("ingest", "flushing")
			}
			return status.WithMetrics(&health.Metrics{Pending: int64(pending)})
		})
	}
	return m
}
