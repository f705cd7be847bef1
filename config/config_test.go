package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 50, cfg.Ingest.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Ingest.FlushInterval)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"service": {"name": "twin-reader", "log_level": "debug"},
		"nats": {"url": "nats://nats:4222", "reconnect_wait": "5s"},
		"cache": {"rebuild_interval": "1d"},
		"ingest": {"database": "telemetry", "threshold": 200}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "twin-reader", cfg.Service.Name)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat, "unset keys keep defaults")
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Cache.RebuildInterval)
	assert.Equal(t, "telemetry", cfg.Ingest.Database)
	assert.Equal(t, 200, cfg.Ingest.Threshold)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
kusto:
  endpoint: https://adx.example.com
  timeout: 45s
  requests_per_second: 2.5
ingest:
  database: telemetry
  flush_interval: 1m
metrics:
  enabled: false
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://adx.example.com", cfg.Kusto.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Kusto.Timeout)
	assert.Equal(t, 2.5, cfg.Kusto.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Kusto.Burst)
	assert.Equal(t, time.Minute, cfg.Ingest.FlushInterval)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{"nats": {"url": "nats://base:4222", "bucket_prefix": "base"}, "ingest": {"threshold": 10}}`)
	override := writeFile(t, "override.yml", "nats:\n  url: nats://prod:4222\n")

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://prod:4222", cfg.NATS.URL)
	assert.Equal(t, "base", cfg.NATS.BucketPrefix)
	assert.Equal(t, 10, cfg.Ingest.Threshold)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{"nats": {"url": "nats://file:4222"}}`)
	t.Setenv("TWINPLATFORM_NATS_URL", "nats://env:4222")
	t.Setenv("TWINPLATFORM_INGEST_THRESHOLD", "75")
	t.Setenv("TWINPLATFORM_INGEST_FLUSH_INTERVAL", "10s")
	t.Setenv("TWINPLATFORM_KUSTO_TOKEN", "tok-123")
	t.Setenv("TWINPLATFORM_KUSTO_CLIENT_ID", "app-id")
	t.Setenv("TWINPLATFORM_KUSTO_CLIENT_SECRET", "pw-456")
	t.Setenv("TWINPLATFORM_KUSTO_TENANT_ID", "tenant")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 75, cfg.Ingest.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Ingest.FlushInterval)
	assert.Equal(t, "tok-123", cfg.Kusto.Token)
	assert.Equal(t, "app-id", cfg.Kusto.ClientID)
	assert.Equal(t, "pw-456", cfg.Kusto.ClientSecret)
	assert.NotContains(t, cfg.String(), "tok-123")
	assert.NotContains(t, cfg.String(), "pw-456")
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("TWINPLATFORM_INGEST_THRESHOLD", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Validation(t *testing.T) {
	path := writeFile(t, "config.json", `{"ingest": {"threshold": 0}, "service": {"log_level": "loud"}}`)

	loader := NewLoader()
	loader.EnableValidation(true)
	_, err := loader.LoadFile(path)
	require.Error(t, err)

	assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "ingest.threshold")
	assert.Contains(t, err.Error(), "service.log_level")
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }},
		{"unsupported extension", func(t *testing.T) string { return writeFile(t, "config.toml", "a = 1") }},
		{"malformed JSON", func(t *testing.T) string { return writeFile(t, "config.json", `{"nats": {`) }},
		{"malformed YAML", func(t *testing.T) string { return writeFile(t, "config.yaml", "nats: [") }},
		{"bad duration", func(t *testing.T) string {
			return writeFile(t, "config.json", `{"nats": {"timeout": "soon"}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(tt.path(t))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }, "nats.url"},
		{"bucket prefix with dot", func(c *Config) { c.NATS.BucketPrefix = "twin.prod" }, "nats.bucket_prefix"},
		{"non-positive timeout", func(c *Config) { c.NATS.Timeout = 0 }, "nats.timeout"},
		{"negative rebuild", func(c *Config) { c.Cache.RebuildInterval = -time.Second }, "cache.rebuild_interval"},
		{"zero flush interval", func(c *Config) { c.Ingest.FlushInterval = 0 }, "ingest.flush_interval"},
		{"relative endpoint", func(c *Config) {
			c.Kusto.Endpoint = "adx.example.com"
			c.Ingest.Database = "db"
		}, "kusto.endpoint"},
		{"endpoint without database", func(c *Config) { c.Kusto.Endpoint = "https://adx.example.com" }, "ingest.database"},
		{"client secret without client id", func(c *Config) {
			c.Kusto.ClientSecret = "s3cret"
			c.Kusto.TenantID = "tenant"
		}, "kusto.client_secret"},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"bad log format", func(c *Config) { c.Service.LogFormat = "xml" }, "service.log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("disabled metrics skip port check", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Port = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.Database = "telemetry"
	cfg.Cache.RebuildInterval = 0

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func TestCheckDepth(t *testing.T) {
	doc := map[string]any{"a": []any{map[string]any{"b": "{[not brackets"}}}
	assert.NoError(t, checkDepth(doc, 3))
	assert.Error(t, checkDepth(doc, 2))

	var deep any = "leaf"
	for i := 0; i <= maxConfigDepth; i++ {
		deep = []any{deep}
	}
	assert.Error(t, checkDepth(deep, maxConfigDepth))
}

func TestLoadFile_TooDeep(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"ingest": `)
	for i := 0; i <= maxConfigDepth; i++ {
		b.WriteString("[")
	}
	for i := 0; i <= maxConfigDepth; i++ {
		b.WriteString("]")
	}
	b.WriteString("}")

	path := filepath.Join(t.TempDir(), "deep.json")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))

	_, err := NewLoader().LoadFile(path)
	assert.ErrorContains(t, err, "nesting deeper")
}
