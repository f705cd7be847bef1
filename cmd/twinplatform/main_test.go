package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/natsclient"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"--log-level=debug", "--lookup=ahu-1", "--shutdown-timeout=5s"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ahu-1", cfg.Lookup)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.ConfigPath)
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown level", []string{"--log-level=loud"}},
		{"unknown format", []string{"--log-format=xml"}},
		{"missing config", []string{"--config=/does/not/exist.yaml"}},
		{"zero shutdown", []string{"--shutdown-timeout=0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  log_level: warn\ningest:\n  threshold: 5\n"), 0600))

	cfg, err := loadConfig(&CLIConfig{ConfigPath: path, LogFormat: "text"})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Service.LogLevel)
	assert.Equal(t, "text", cfg.Service.LogFormat)
	assert.Equal(t, 5, cfg.Ingest.Threshold)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "twin", "ahu-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, appName, line["service"])
	assert.Equal(t, "ahu-1", line["twin"])
}

type recordingSeeder struct {
	order []string
	fail  string
}

func (s *recordingSeeder) put(id string) error {
	if id == s.fail {
		return stderrors.New("store unavailable")
	}
	s.order = append(s.order, id)
	return nil
}

func (s *recordingSeeder) PutModel(_ context.Context, m twin.Model) error { return s.put(m.ID) }
func (s *recordingSeeder) PutTwin(_ context.Context, t twin.Twin) error { return s.put(t.ID) }
func (s *recordingSeeder) PutRelationship(_ context.Context, r twin.Relationship) error {
	return s.put(r.ID)
}

func TestSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"twins": [{"$dtId": "ahu-1", "$model": "dtmi:AHU;1"}],
		"relationships": [{"$relationshipId": "r1", "$sourceId": "ahu-1", "$targetId": "floor-1", "$relationshipName": "locatedIn"}],
		"models": [{"id": "dtmi:AHU;1", "displayName": "AHU"}]
	}`), 0600))

	seeder := &recordingSeeder{}
	ds, err := seedFile(context.Background(), seeder, path)
	require.NoError(t, err)

	assert.Len(t, ds.Twins, 1)
	assert.Equal(t, []string{"dtmi:AHU;1", "ahu-1", "r1"}, seeder.order)
}

func TestSeed_StopsOnError(t *testing.T) {
	seeder := &recordingSeeder{fail: "b"}
	err := seed(context.Background(), seeder, Dataset{
		Twins: []twin.Twin{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed twin b")
	assert.Equal(t, []string{"a"}, seeder.order)
}

type fakeLookup struct {
	twins map[string]*twin.Twin
	out   []twin.Relationship
	in    []twin.Relationship
}

func (f *fakeLookup) GetDigitalTwin(_ context.Context, id string) (*twin.Twin, error) {
	return f.twins[id], nil
}

func (f *fakeLookup) GetTwinRelationships(context.Context, string) ([]twin.Relationship, error) {
	return f.out, nil
}

func (f *fakeLookup) GetIncomingRelationships(context.Context, string) ([]twin.Relationship, error) {
	return f.in, nil
}

func TestLookup(t *testing.T) {
	r := &fakeLookup{
		twins: map[string]*twin.Twin{"ahu-1": {ID: "ahu-1", ModelID: "dtmi:AHU;1"}},
		out:   []twin.Relationship{{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1", Name: "locatedIn"}},
	}

	var buf bytes.Buffer
	require.NoError(t, lookup(context.Background(), r, "ahu-1", &buf))

	var got lookupResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ahu-1", got.Twin.ID)
	require.Len(t, got.Outgoing, 1)
	assert.Equal(t, "r1", got.Outgoing[0].ID)
	assert.Empty(t, got.Incoming)

	err := lookup(context.Background(), r, "missing", &buf)
	assert.ErrorContains(t, err, "twin missing not found")
}

type fakeNATS struct {
	healthy bool
	rttErr  error
}

func (f fakeNATS) IsHealthy() bool { return f.healthy }

func (f fakeNATS) RTT() (time.Duration, error) { return 1500 * time.Microsecond, f.rttErr }

func (f fakeNATS) Status() natsclient.ConnectionStatus {
	if f.healthy {
		return natsclient.StatusConnected
	}
	return natsclient.StatusReconnecting
}

type fakeCache struct{ ready bool }

func (f fakeCache) IsCacheReady() bool { return f.ready }

type fakeBacklog int

func (f fakeBacklog) Pending() int { return int(f) }

func TestNewHealthMonitor(t *testing.T) {
	m := newHealthMonitor(fakeNATS{healthy: true}, fakeCache{ready: true}, fakeBacklog(3), 50)
	agg := m.AggregateHealth(appName)
	assert.True(t, agg.IsHealthy())
	assert.Equal(t, []string{"ingest", "nats", "twin_cache"}, m.ListComponents())
	natsStatus, _ := m.Get("nats")
	assert.Equal(t, "connected, rtt 1.5ms", natsStatus.Message)

	m = newHealthMonitor(fakeNATS{healthy: true, rttErr: stderrors.New("timeout")}, fakeCache{ready: true}, nil, 50)
	assert.True(t, m.AggregateHealth(appName).IsDegraded())

	m = newHealthMonitor(fakeNATS{healthy: true}, fakeCache{ready: false}, fakeBacklog(101), 50)
	agg = m.AggregateHealth(appName)
	assert.True(t, agg.IsDegraded())
	ingestStatus, _ := m.Get("ingest")
	require.NotNil(t, ingestStatus.Metrics)
	assert.Equal(t, int64(101), ingestStatus.Metrics.Pending)

	m = newHealthMonitor(fakeNATS{healthy: false}, fakeCache{ready: true}, nil, 50)
	assert.True(t, m.AggregateHealth(appName).IsUnhealthy())
	assert.Equal(t, []string{"nats", "twin_cache"}, m.ListComponents())
}

func TestPrintTwinsQuery(t *testing.T) {
	cfg, err := parseFlags([]string{"--query", "--query-ids=a, b,"})
	require.NoError(t, err)
	require.True(t, cfg.Query.Enabled)

	var buf bytes.Buffer
	require.NoError(t, printTwinsQuery(&buf, cfg.Query))
	assert.Equal(t, "SELECT * from DIGITALTWINS where ($dtId IN ['a','b']) \n", buf.String())

	err = printTwinsQuery(&buf, QueryFlags{Search: "abc!"})
	assert.ErrorContains(t, err, "build twins query")
}
