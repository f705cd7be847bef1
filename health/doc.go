// Package health reports the health of the platform's dependencies.
//
// A Status is healthy, degraded or unhealthy. Components either push their
// status into a Monitor with Update, or register a CheckFunc that is polled
// whenever the monitor is read:
//
//	monitor := health.NewMonitor()
//	monitor.RegisterCheck("twin_cache", func() health.Status {
//		if provider.IsCacheReady() {
//			return health.NewHealthy("twin_cache", "cache built")
//		}
//		return health.NewDegraded("twin_cache", "cache not built yet")
//	})
//
// Aggregate folds sub-statuses into one: any unhealthy sub-status makes the
// whole unhealthy, otherwise any degraded one makes it degraded. Handler
// exposes the aggregate over HTTP.
//
// Error text placed in a Status through FromError is sanitized so URLs,
// file paths, addresses and credentials never reach the health endpoint.
package health
