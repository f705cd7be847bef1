// Package intake feeds rows published on NATS into the local ingestion store.
//
// Each message carries one row as JSON:
//
//	{
//	  "database": "telemetry",
//	  "table": "Readings",
//	  "columns": [
//	    {"name": "TwinId", "type": "string", "value": "ahu-1"},
//	    {"name": "Value", "type": "real", "value": 21.5},
//	    {"name": "Timestamp", "type": "datetime", "value": "2024-05-01T10:00:00Z"}
//	  ],
//	  "force": false
//	}
//
// The database may be omitted when the intake has a default database.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/pkg/worker"
)

// Record is the wire form of one row.
type Record struct {
	Database string  `json:"database,omitempty"`
	Table    string  `json:"table"`
	Columns  []Field `json:"columns"`
	Force    bool    `json:"force,omitempty"`
}

// Field is one typed column value.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Store accepts rows for batched ingestion.
type Store interface {
	AddRecordForIngestion(ctx context.Context, database, table string, values []ingest.ColumnValue, force bool) (int, error)
}

// Subscriber delivers message payloads for a subject.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Intake decodes published records and queues them on a Store.
type Intake struct {
	store    Store
	database string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	workers   int
	queueSize int
	pool      *worker.Pool[[]byte]
}

// Option configures an Intake.
type Option func(*Intake)

// WithDefaultDatabase sets the database used when a record names none.
func WithDefaultDatabase(database string) Option {
	return func(in *Intake) {
		in.database = database
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Intake) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithMetrics records rejected messages on the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(in *Intake) {
		if registry != nil {
			in.registry = registry
			in.metrics = registry.CoreMetrics()
		}
	}
}

// WithWorkers sets how many messages are processed concurrently and how many
// may wait. Messages arriving while the queue is full are rejected.
func WithWorkers(workers, queueSize int) Option {
	return func(in *Intake) {
		in.workers = workers
		in.queueSize = queueSize
	}
}

// New creates an Intake writing to store.
func New(store Store, opts ...Option) *Intake {
	in := &Intake{
		store:     store,
		logger:    slog.Default(),
		workers:   4,
		queueSize: 1000,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start subscribes the intake to subject. Messages are handed to a worker
// pool so a flush triggered by one row does not block delivery. The pool
// outlives ctx; call Stop to drain it.
func (in *Intake) Start(ctx context.Context, sub Subscriber, subject string) error {
	var opts []worker.Option[[]byte]
	if in.registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[[]byte](in.registry, "ingest_intake"))
	}
	pool := worker.NewPool(in.workers, in.queueSize, in.handle, opts...)
	if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "Intake", "Start", "start workers")
	}

	in.pool = pool

	if err := sub.Subscribe(ctx, subject, in.submit); err != nil {
		_ = pool.Stop(time.Second)
		return errors.Wrap(err, "Intake", "Start", fmt.Sprintf("subscribe %s", subject))
	}
	in.logger.Info("Ingestion intake subscribed", "subject", subject, "workers", in.workers)
	return nil
}

// Stop waits up to timeout for queued messages to be processed.
func (in *Intake) Stop(timeout time.Duration) error {
	if in == nil || in.pool == nil {
		return nil
	}
	return errors.Wrap(in.pool.Stop(timeout), "Intake", "Stop", "drain workers")
}

func (in *Intake) submit(_ context.Context, data []byte) {
	if err := in.pool.Submit(data); err != nil {
		in.reject(err, len(data))
	}
}

// Handle processes one message synchronously. Failures are logged and
// counted; a message is never redelivered.
func (in *Intake) Handle(ctx context.Context, data []byte) {
	_ = in.handle(ctx, data)
}

func (in *Intake) handle(ctx context.Context, data []byte) error {
	err := in.Process(ctx, data)
	if err != nil {
		in.reject(err, len(data))
	}
	return err
}

func (in *Intake) reject(err error, size int) {
	if in.metrics != nil {
		in.metrics.RecordIngestFailure("intake")
	}
	in.logger.Warn("Rejected ingestion record", "error", err, "bytes", size)
}

// Process decodes data and queues the row it describes.
func (in *Intake) Process(ctx context.Context, data []byte) error {
	rec, values, err := in.Decode(data)
	if err != nil {
		return err
	}
	n, err := in.store.AddRecordForIngestion(ctx, rec.Database, rec.Table, values, rec.Force)
	if err != nil {
		return errors.Wrap(err, "Intake", "Process", "queue row")
	}
	if n > 0 {
		in.logger.Debug("Intake triggered flush", "rows", n)
	}
	return nil
}

// Decode parses a record and converts its values to their column types.
func (in *Intake) Decode(data []byte) (Record, []ingest.ColumnValue, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"Intake", "Decode", "parse record")
	}
	if rec.Database == "" {
		rec.Database = in.database
	}
	if rec.Database == "" || rec.Table == "" || len(rec.Columns) == 0 {
		return Record{}, nil, errors.WrapInvalid(
			fmt.Errorf("%w: record needs database, table and columns", errors.ErrInvalidArgument),
			"Intake", "Decode", "validate record")
	}

	values := make([]ingest.ColumnValue, 0, len(rec.Columns))
	for _, f := range rec.Columns {
		v, err := convert(f)
		if err != nil {
			return Record{}, nil, errors.WrapInvalid(err, "Intake", "Decode", fmt.Sprintf("convert column %s", f.Name))
		}
		values = append(values, v)
	}
	return rec, values, nil
}

func convert(f Field) (ingest.ColumnValue, error) {
	if f.Name == "" {
		return ingest.ColumnValue{}, fmt.Errorf("%w: column without name", errors.ErrInvalidArgument)
	}
	typ, err := ingest.ParseColumnType(f.Type)
	if err != nil {
		return ingest.ColumnValue{}, err
	}
	cv := ingest.ColumnValue{Column: ingest.Column{Name: f.Name, Type: typ}}
	if f.Value == nil {
		return cv, nil
	}

	mismatch := fmt.Errorf("%w: %s value %v (%T)", errors.ErrSchemaMismatch, typ, f.Value, f.Value)
	switch typ {
	case ingest.ColumnString, ingest.ColumnGUID:
		s, ok := f.Value.(string)
		if !ok {
			return cv, mismatch
		}
		cv.Value = s
	case ingest.ColumnInt, ingest.ColumnLong:
		n, ok := f.Value.(float64)
		if !ok || n != math.Trunc(n) {
			return cv, mismatch
		}
		cv.Value = int64(n)
	case ingest.ColumnReal, ingest.ColumnDecimal:
		n, ok := f.Value.(float64)
		if !ok {
			return cv, mismatch
		}
		cv.Value = n
	case ingest.ColumnBool:
		b, ok := f.Value.(bool)
		if !ok {
			return cv, mismatch
		}
		cv.Value = b
	case ingest.ColumnDateTime:
		s, ok := f.Value.(string)
		if !ok {
			return cv, mismatch
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return cv, fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err)
		}
		cv.Value = ts
	case ingest.ColumnTimeSpan:
		s, ok := f.Value.(string)
		if !ok {
			return cv, mismatch
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return cv, fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err)
		}
		cv.Value = d
	default:
		cv.Value = f.Value
	}
	return cv, nil
}
