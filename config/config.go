package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

// Environment variables carrying this prefix override file values.
const EnvPrefix = "TWINPLATFORM_"

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the complete process configuration.
type Config struct {
	Service ServiceConfig `json:"service" envPrefix:"SERVICE_"`
	NATS    NATSConfig    `json:"nats"    envPrefix:"NATS_"`
	Cache   CacheConfig   `json:"cache"   envPrefix:"CACHE_"`
	Ingest  IngestConfig  `json:"ingest"  envPrefix:"INGEST_"`
	Kusto   KustoConfig   `json:"kusto"   envPrefix:"KUSTO_"`
	Metrics MetricsConfig `json:"metrics" envPrefix:"METRICS_"`
}

// ServiceConfig names the process and controls its logging.
type ServiceConfig struct {
	Name      string `json:"name"       env:"NAME"`
	LogLevel  string `json:"log_level"  env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" env:"LOG_FORMAT"`
}

// NATSConfig configures the connection backing the twin store.
type NATSConfig struct {
	URL           string        `json:"url"            env:"URL"`
	Username      string        `json:"username"       env:"USERNAME"`
	Password      string        `json:"password"       env:"PASSWORD"`
	Token         string        `json:"token"          env:"TOKEN"`
	BucketPrefix  string        `json:"bucket_prefix"  env:"BUCKET_PREFIX"`
	MaxReconnects int           `json:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait" env:"RECONNECT_WAIT"`
	Timeout       time.Duration `json:"timeout"        env:"TIMEOUT"`
}

// CacheConfig controls generation rebuilds. A zero RebuildInterval builds once.
type CacheConfig struct {
	RebuildInterval time.Duration `json:"rebuild_interval" env:"REBUILD_INTERVAL"`
}

// IngestConfig controls the local ingestion store.
type IngestConfig struct {
	Database      string        `json:"database"       env:"DATABASE"`
	Threshold     int           `json:"threshold"      env:"THRESHOLD"`
	FlushInterval time.Duration `json:"flush_interval" env:"FLUSH_INTERVAL"`
	// Subject is the NATS subject rows are published on. Empty disables intake.
	Subject       string        `json:"subject"        env:"SUBJECT"`
}

// KustoConfig configures the analytical store client. ClientID with
// ClientSecret selects application key authentication, Token a pre-acquired
// application token; with neither the default Azure credential chain is used.
type KustoConfig struct {
	Endpoint          string        `json:"endpoint"            env:"ENDPOINT"`
	ClientID          string        `json:"client_id"           env:"CLIENT_ID"`
	ClientSecret      string        `json:"client_secret"       env:"CLIENT_SECRET"`
	TenantID          string        `json:"tenant_id"           env:"TENANT_ID"`
	Token             string        `json:"token"               env:"TOKEN"`
	Timeout           time.Duration `json:"timeout"             env:"TIMEOUT"`
	RequestsPerSecond float64       `json:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `json:"burst"               env:"BURST"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Port    int    `json:"port"    env:"PORT"`
	Path    string `json:"path"    env:"PATH"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "twinplatform",
			LogLevel:  "info",
			LogFormat: "json",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			BucketPrefix:  "twin",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Cache: CacheConfig{
			RebuildInterval: 15 * time.Minute,
		},
		Ingest: IngestConfig{
			Threshold:     50,
			FlushInterval: 30 * time.Second,
			Subject:       "twinplatform.ingest",
		},
		Kusto: KustoConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for values the process cannot run with.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var problems []string

	if !containsFold(validLogLevels, c.Service.LogLevel) {
		problems = append(problems, fmt.Sprintf("service.log_level %q must be one of %s",
			c.Service.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if f := strings.ToLower(c.Service.LogFormat); f != "json" && f != "text" {
		problems = append(problems, fmt.Sprintf("service.log_format %q must be json or text", c.Service.LogFormat))
	}

	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	}
	if c.NATS.BucketPrefix == "" || strings.ContainsAny(c.NATS.BucketPrefix, " .*>") {
		problems = append(problems, fmt.Sprintf("nats.bucket_prefix %q is not a valid bucket name prefix", c.NATS.BucketPrefix))
	}
	if c.NATS.ReconnectWait < 0 {
		problems = append(problems, "nats.reconnect_wait cannot be negative")
	}
	if c.NATS.Timeout <= 0 {
		problems = append(problems, "nats.timeout must be positive")
	}

	if c.Cache.RebuildInterval < 0 {
		problems = append(problems, "cache.rebuild_interval cannot be negative")
	}

	if c.Ingest.Threshold <= 0 {
		problems = append(problems, "ingest.threshold must be positive")
	}
	if c.Ingest.FlushInterval <= 0 {
		problems = append(problems, "ingest.flush_interval must be positive")
	}

	if c.Kusto.Endpoint != "" && !strings.HasPrefix(c.Kusto.Endpoint, "http://") &&
		!strings.HasPrefix(c.Kusto.Endpoint, "https://") {
		problems = append(problems, fmt.Sprintf("kusto.endpoint %q must be an http(s) URL", c.Kusto.Endpoint))
	}
	if c.Kusto.Endpoint != "" && c.Ingest.Database == "" {
		problems = append(problems, "ingest.database is required when kusto.endpoint is set")
	}
	if c.Kusto.ClientSecret != "" && (c.Kusto.ClientID == "" || c.Kusto.TenantID == "") {
		problems = append(problems, "kusto.client_secret needs kusto.client_id and kusto.tenant_id")
	}
	if c.Kusto.RequestsPerSecond < 0 {
		problems = append(problems, "kusto.requests_per_second cannot be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			problems = append(problems, fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			problems = append(problems, fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		}
	}

	if len(problems) > 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "check configuration")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation with secrets redacted.
func (c *Config) String() string {
	redacted := c.Clone()
	for _, secret := range []*string{&redacted.NATS.Password, &redacted.NATS.Token, &redacted.Kusto.Token, &redacted.Kusto.ClientSecret} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
