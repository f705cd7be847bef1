// Package config loads the twin platform process configuration.
//
// Configuration is assembled in layers. DefaultConfig supplies every value,
// then each file added with AddLayer is merged key by key, then environment
// variables prefixed with TWINPLATFORM_ override individual fields:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Files may be JSON (.json) or YAML (.yaml, .yml). Duration values accept Go
// duration strings plus a day suffix ("14d"). Environment variable names
// follow the struct layout, for example TWINPLATFORM_NATS_URL or
// TWINPLATFORM_INGEST_FLUSH_INTERVAL.
//
// Validation failures wrap errors.ErrInvalidConfig and are classified fatal.
package config
