package kusto

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-kusto-go/kusto"
	kerrors "github.com/Azure/azure-kusto-go/kusto/data/errors"
	kingest "github.com/Azure/azure-kusto-go/kusto/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
)

type fakeMgmt struct {
	mu       sync.Mutex
	database string
	commands []string
	err      error
}

func (f *fakeMgmt) Mgmt(_ context.Context, db string, query kusto.Statement, _ ...kusto.QueryOption) (*kusto.RowIterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.database = db
	f.commands = append(f.commands, query.String())
	return nil, f.err
}

type fakeIngestor struct {
	database, table string

	mu      sync.Mutex
	bodies  []string
	uris    []string
	options int
	err     error
	closed  bool
}

func (f *fakeIngestor) FromReader(_ context.Context, r io.Reader, opts ...kingest.FileOption) (*kingest.Result, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, string(body))
	f.options = len(opts)
	return &kingest.Result{}, f.err
}

func (f *fakeIngestor) FromFile(_ context.Context, uri string, opts ...kingest.FileOption) (*kingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uris = append(f.uris, uri)
	f.options = len(opts)
	return &kingest.Result{}, f.err
}

func (f *fakeIngestor) Close() error {
	f.closed = true
	return nil
}

type fakeCluster struct {
	mgmt      *fakeMgmt
	ingestors map[ingest.TableKey]*fakeIngestor
	created   int
	err       error
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{mgmt: &fakeMgmt{}, ingestors: make(map[ingest.TableKey]*fakeIngestor)}
	create := func(database, table string) (*fakeIngestor, error) {
		cluster.created++
		if cluster.err != nil {
			return nil, cluster.err
		}
		f := &fakeIngestor{database: database, table: table}
		cluster.ingestors[ingest.TableKey{Database: database, Table: table}] = f
		return f, nil
	}

	c := newClient(cfg, cluster.mgmt, nil)
	c.newStreamer = func(database, table string) (streamer, error) {
		f, err := create(database, table)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	c.newQueuer = func(database, table string) (queuer, error) {
		f, err := create(database, table)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return c, cluster
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestExecuteControlCommand(t *testing.T) {
	client, cluster := newTestClient(t, Config{})

	err := client.ExecuteControlCommand(context.Background(), "telemetry", `.ingest inline into table Events <| "a"`)
	require.NoError(t, err)
	assert.Equal(t, "telemetry", cluster.mgmt.database)
	assert.Equal(t, []string{`.ingest inline into table Events <| "a"`}, cluster.mgmt.commands)
}

func TestIngestFromDataTable_StreamsCSV(t *testing.T) {
	client, cluster := newTestClient(t, Config{})

	id := ingest.Column{Name: "Id", Type: ingest.ColumnString}
	value := ingest.Column{Name: "Value", Type: ingest.ColumnReal}
	dt := ingest.NewDataTable("telemetry", "Points", []ingest.Column{id, value})
	require.NoError(t, dt.AddRow([]ingest.ColumnValue{{Column: id, Value: "p1"}, {Column: value, Value: 1.5}}))
	require.NoError(t, dt.AddRow([]ingest.ColumnValue{{Column: id, Value: "p2"}, {Column: value, Value: 2.0}}))

	require.NoError(t, client.IngestFromDataTable(context.Background(), dt))
	require.NoError(t, client.IngestFromDataTable(context.Background(), dt))

	f := cluster.ingestors[ingest.TableKey{Database: "telemetry", Table: "Points"}]
	require.NotNil(t, f)
	assert.Equal(t, []string{"p1,1.5\np2,2\n", "p1,1.5\np2,2\n"}, f.bodies)
	assert.Equal(t, 1, f.options)
	assert.Equal(t, 1, cluster.created, "one streaming ingestor per table")
}

func TestIngestFromStorage(t *testing.T) {
	client, cluster := newTestClient(t, Config{})

	err := client.IngestFromStorage(context.Background(), ingest.StorageIngestion{
		URI: "https://acct.blob/x.json?sig=1", Database: "db", Table: "Twins", MappingName: "TwinsMapping",
	})
	require.NoError(t, err)

	f := cluster.ingestors[ingest.TableKey{Database: "db", Table: "Twins"}]
	require.NotNil(t, f)
	assert.Equal(t, []string{"https://acct.blob/x.json?sig=1"}, f.uris)
	assert.Equal(t, 2, f.options, "format and mapping reference")
}

func TestStorageOptions(t *testing.T) {
	assert.Len(t, StorageOptions(ingest.StorageIngestion{}), 1)
	assert.Len(t, StorageOptions(ingest.StorageIngestion{Format: ingest.FormatCSV, MappingName: "m"}), 2)
	assert.Equal(t, ingest.FormatJSON, storageFormat(ingest.StorageIngestion{}))
	assert.Equal(t, kingest.Parquet, sdkFormat(ingest.FormatParquet))
	assert.Equal(t, kingest.MultiJSON, sdkFormat(ingest.FormatMultiJSON))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		permanent bool
	}{
		{"sdk retryable", kerrors.ES(kerrors.OpMgmt, kerrors.KTimeout, "request timed out"), true, false, false},
		{"sdk permanent", kerrors.ES(kerrors.OpMgmt, kerrors.KClientArgs, "bad mapping").SetNoRetry(), false, true, true},
		{"transport", stderrors.New("connection reset by peer"), true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"cancelled", context.Canceled, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, cluster := newTestClient(t, Config{})
			cluster.mgmt.err = tt.err

			err := client.ExecuteControlCommand(context.Background(), "db", ".show tables")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Client.ExecuteControlCommand")
			assert.Equal(t, tt.transient, errors.IsTransient(err))
			assert.Equal(t, tt.invalid, errors.IsInvalid(err))
			assert.Equal(t, tt.permanent, errors.IsPermanent(err))
		})
	}
}

func TestStreamingFailureIsClassified(t *testing.T) {
	client, cluster := newTestClient(t, Config{})
	require.NoError(t, client.IngestFromDataReader(context.Background(), "db", "T", emptyReader()))

	cluster.ingestors[ingest.TableKey{Database: "db", Table: "T"}].err =
		kerrors.ES(kerrors.OpIngestStream, kerrors.KClientArgs, "schema mismatch").SetNoRetry()
	err := client.IngestFromDataReader(context.Background(), "db", "T", emptyReader())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrRequestRejected)
}

func TestIngestorCreationFailure(t *testing.T) {
	client, cluster := newTestClient(t, Config{})
	cluster.err = stderrors.New("ingestion endpoint unreachable")

	err := client.IngestFromStorage(context.Background(), ingest.StorageIngestion{URI: "https://x", Database: "db", Table: "T"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	cluster.err = nil
	require.NoError(t, client.IngestFromStorage(context.Background(), ingest.StorageIngestion{URI: "https://x", Database: "db", Table: "T"}))
	assert.Equal(t, 2, cluster.created, "failed creations are not cached")
}

func TestClose(t *testing.T) {
	client, cluster := newTestClient(t, Config{})
	require.NoError(t, client.IngestFromDataReader(context.Background(), "db", "A", emptyReader()))
	require.NoError(t, client.IngestFromStorage(context.Background(), ingest.StorageIngestion{URI: "https://x", Database: "db", Table: "B"}))

	require.NoError(t, client.Close())
	for key, f := range cluster.ingestors {
		assert.True(t, f.closed, key.String())
	}
}

func TestRateLimit(t *testing.T) {
	client, cluster := newTestClient(t, Config{RequestsPerSecond: 1, Burst: 1})
	require.NoError(t, client.ExecuteControlCommand(context.Background(), "db", ".show tables"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.ExecuteControlCommand(ctx, "db", ".show tables")
	require.Error(t, err)
	assert.Len(t, cluster.mgmt.commands, 1)
}

func emptyReader() ingest.RowReader {
	return ingest.NewDataTable("db", "T", nil).Reader()
}
