package intake

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) AddRecordForIngestion(ctx context.Context, database, table string, values []ingest.ColumnValue, force bool) (int, error) {
	args := m.Called(ctx, database, table, values, force)
	return args.Int(0), args.Error(1)
}

type fakeSubscriber struct {
	subject string
	handler func(context.Context, []byte)
	err     error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	f.subject = subject
	f.handler = handler
	return f.err
}

const reading = `{
	"table": "Readings",
	"columns": [
		{"name": "TwinId", "type": "string", "value": "ahu-1"},
		{"name": "Value", "type": "real", "value": 21.5},
		{"name": "Count", "type": "long", "value": 3},
		{"name": "Ok", "type": "bool", "value": true},
		{"name": "Timestamp", "type": "datetime", "value": "2024-05-01T10:00:00Z"},
		{"name": "Window", "type": "timespan", "value": "90s"},
		{"name": "Tags", "type": "dynamic", "value": {"site": "north"}},
		{"name": "Note", "type": "string", "value": null}
	]
}`

func TestIntake_Decode(t *testing.T) {
	in := New(&MockStore{}, WithDefaultDatabase("telemetry"))

	rec, values, err := in.Decode([]byte(reading))
	require.NoError(t, err)

	assert.Equal(t, "telemetry", rec.Database)
	assert.Equal(t, "Readings", rec.Table)
	require.Len(t, values, 8)

	assert.Equal(t, ingest.Column{Name: "TwinId", Type: ingest.ColumnString}, values[0].Column)
	assert.Equal(t, "ahu-1", values[0].Value)
	assert.Equal(t, 21.5, values[1].Value)
	assert.Equal(t, int64(3), values[2].Value)
	assert.Equal(t, true, values[3].Value)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), values[4].Value)
	assert.Equal(t, 90*time.Second, values[5].Value)
	assert.Equal(t, map[string]any{"site": "north"}, values[6].Value)
	assert.Nil(t, values[7].Value)
}

func TestIntake_DecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"table":`},
		{"no database", `{"table": "T", "columns": [{"name": "a", "type": "string", "value": "x"}]}`},
		{"no columns", `{"database": "db", "table": "T"}`},
		{"unknown type", `{"database": "db", "table": "T", "columns": [{"name": "a", "type": "blob", "value": "x"}]}`},
		{"fractional long", `{"database": "db", "table": "T", "columns": [{"name": "a", "type": "long", "value": 1.5}]}`},
		{"string for bool", `{"database": "db", "table": "T", "columns": [{"name": "a", "type": "bool", "value": "yes"}]}`},
		{"bad datetime", `{"database": "db", "table": "T", "columns": [{"name": "a", "type": "datetime", "value": "May 1"}]}`},
		{"unnamed column", `{"database": "db", "table": "T", "columns": [{"type": "string", "value": "x"}]}`},
	}

	in := New(&MockStore{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := in.Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestIntake_ProcessQueuesRow(t *testing.T) {
	store := &MockStore{}
	store.On("AddRecordForIngestion", mock.Anything, "db", "T",
		[]ingest.ColumnValue{{Column: ingest.Column{Name: "a", Type: ingest.ColumnInt}, Value: int64(7)}}, true).
		Return(1, nil).Once()

	in := New(store)
	err := in.Process(context.Background(),
		[]byte(`{"database": "db", "table": "T", "force": true, "columns": [{"name": "a", "type": "int", "value": 7}]}`))
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestIntake_HandleCountsFailures(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := &MockStore{}
	boom := stderrors.New("queue closed")
	store.On("AddRecordForIngestion", mock.Anything, "db", "T", mock.Anything, false).Return(0, boom).Once()

	in := New(store, WithMetrics(registry), WithDefaultDatabase("db"))
	in.Handle(context.Background(), []byte(`not json`))
	in.Handle(context.Background(), []byte(`{"table": "T", "columns": [{"name": "a", "type": "string", "value": "x"}]}`))

	failures := registry.CoreMetrics().IngestFailures.WithLabelValues("intake")
	assert.Equal(t, 2.0, testutil.ToFloat64(failures))
	store.AssertExpectations(t)
}

func TestIntake_Start(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := &MockStore{}
	store.On("AddRecordForIngestion", mock.Anything, "db", "T", mock.Anything, false).Return(0, nil).Times(3)
	sub := &fakeSubscriber{}

	in := New(store, WithDefaultDatabase("db"), WithWorkers(2, 10), WithMetrics(registry))
	require.NoError(t, in.Start(context.Background(), sub, "twinplatform.ingest"))
	assert.Equal(t, "twinplatform.ingest", sub.subject)

	msg := []byte(`{"table": "T", "columns": [{"name": "a", "type": "guid", "value": "0f8fad5b-d9cb-469f-a165-70867728950e"}]}`)
	for i := 0; i < 3; i++ {
		sub.handler(context.Background(), msg)
	}

	require.NoError(t, in.Stop(time.Second))
	store.AssertExpectations(t)

	sub.handler(context.Background(), msg)
	failures := registry.CoreMetrics().IngestFailures.WithLabelValues("intake")
	assert.Equal(t, 1.0, testutil.ToFloat64(failures), "messages after stop are rejected")
}

func TestIntake_StartSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: stderrors.New("not connected")}

	in := New(&MockStore{})
	assert.Error(t, in.Start(context.Background(), sub, "twinplatform.ingest"))
}

func TestIntake_StopWithoutStart(t *testing.T) {
	assert.NoError(t, New(&MockStore{}).Stop(time.Second))
}
