// Package localstore buffers rows bound for the analytical store and
// ingests them in bulk, one call per destination table.
package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/pkg/buffer"
)

// DefaultThreshold is the number of pending rows above which adding a row
// flushes the store.
const DefaultThreshold = 50

// Ingester performs the bulk ingestion of one table.
type Ingester interface {
	IngestFromDataTable(ctx context.Context, table *ingest.DataTable) error
}

// LocalStore is a queue of pending rows with threshold and forced flushes.
type LocalStore struct {
	ingester  Ingester
	threshold int
	queue     *buffer.Queue[ingest.Row]
	logger    *slog.Logger
	metrics   *metric.Metrics
	registry  *metric.MetricsRegistry

	// mu serializes the drain and grouping phase of concurrent flushes so
	// each table gets exactly one accumulator per flush.
	mu sync.Mutex
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithThreshold sets the flush threshold. Values below 1 keep the default.
func WithThreshold(n int) Option {
	return func(s *LocalStore) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *LocalStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records ingested and dropped rows, flush durations and queue
// depth in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *LocalStore) {
		s.registry = registry
	}
}

// WithQueue replaces the pending row queue.
func WithQueue(q *buffer.Queue[ingest.Row]) Option {
	return func(s *LocalStore) {
		s.queue = q
	}
}

// New creates a LocalStore that flushes through ingester.
func New(ingester Ingester, opts ...Option) (*LocalStore, error) {
	s := &LocalStore{
		ingester:  ingester,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry != nil {
		s.metrics = s.registry.CoreMetrics()
	}
	if s.queue == nil {
		var queueOpts []buffer.Option[ingest.Row]
		if s.registry != nil {
			queueOpts = append(queueOpts, buffer.WithMetrics[ingest.Row](s.registry, "ingest_localstore"))
		}
		q, err := buffer.NewQueue[ingest.Row](queueOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "LocalStore", "New", "create queue")
		}
		s.queue = q
	}
	return s, nil
}

// Pending returns the number of queued rows.
func (s *LocalStore) Pending() int {
	return s.queue.Len()
}

// AddRecordForIngestion queues one row. It returns 0 unless force is set or
// the queue now holds more rows than the threshold; then it flushes and
// returns the number of rows ingested.
func (s *LocalStore) AddRecordForIngestion(ctx context.Context, database, table string, values []ingest.ColumnValue, force bool) (int, error) {
	if database == "" || table == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidArgument, "LocalStore", "AddRecordForIngestion", "validate destination")
	}

	row := ingest.Row{
		Database: database,
		Table:    table,
		Values:   append([]ingest.ColumnValue(nil), values...),
	}
	if err := s.queue.Enqueue(row); err != nil {
		return 0, errors.Wrap(err, "LocalStore", "AddRecordForIngestion", "queue row")
	}

	if force || s.queue.Len() > s.threshold {
		return s.FlushLocalStore(ctx)
	}
	return 0, nil
}

// FlushLocalStore drains the queue and ingests the rows, one call per table
// with tables in parallel. Rows that do not fit their table's schema are
// logged and dropped. It returns the number of rows in tables that were
// ingested; the first table failure is returned after every table finished.
func (s *LocalStore) FlushLocalStore(ctx context.Context) (int, error) {
	start := time.Now()
	tables := s.drain()
	if len(tables) == 0 {
		return 0, nil
	}

	flushID := uuid.NewString()
	var ingested atomic.Int64
	var g errgroup.Group
	for _, dt := range tables {
		g.Go(func() error {
			if err := s.ingester.IngestFromDataTable(ctx, dt); err != nil {
				s.logger.Error("Table ingestion failed",
					"flush_id", flushID, "database", dt.Database, "table", dt.Table, "rows", dt.Len(), "error", err)
				return errors.Wrap(err, "LocalStore", "FlushLocalStore", fmt.Sprintf("ingest %s.%s", dt.Database, dt.Table))
			}
			ingested.Add(int64(dt.Len()))
			if s.metrics != nil {
				s.metrics.RecordRowsIngested(dt.Table, dt.Len())
			}
			return nil
		})
	}
	err := g.Wait()

	if s.metrics != nil {
		s.metrics.RecordFlush(time.Since(start))
	}
	s.logger.Debug("Flushed local store",
		"flush_id", flushID, "tables", len(tables), "rows", ingested.Load(), "duration", time.Since(start))
	return int(ingested.Load()), err
}

// drain empties the queue into one table per destination, in FIFO order
// within each table, sorted by destination.
func (s *LocalStore) drain() []*ingest.DataTable {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.queue.Drain()
	if len(rows) == 0 {
		return nil
	}

	byKey := make(map[ingest.TableKey]*ingest.DataTable)
	for _, row := range rows {
		key := row.Key()
		dt, ok := byKey[key]
		if !ok {
			dt = ingest.NewDataTable(row.Database, row.Table, row.Columns())
			byKey[key] = dt
		}
		if err := dt.AddRow(row.Values); err != nil {
			s.logger.Warn("Dropping row", "database", row.Database, "table", row.Table, "error", err)
			if s.metrics != nil {
				s.metrics.RecordRowDropped(row.Table)
			}
		}
	}

	keys := make([]ingest.TableKey, 0, len(byKey))
	for k, dt := range byKey {
		if dt.Len() > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	tables := make([]*ingest.DataTable, len(keys))
	for i, k := range keys {
		tables[i] = byKey[k]
	}
	return tables
}

// Run flushes every interval until ctx is done, then flushes once more so
// rows queued before shutdown are not lost.
func (s *LocalStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: flush interval %v", errors.ErrInvalidConfig, interval),
			"LocalStore", "Run", "validate interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n, err := s.FlushLocalStore(context.WithoutCancel(ctx))
			if err != nil {
				s.logger.Error("Final flush failed", "error", err)
			} else if n > 0 {
				s.logger.Info("Final flush complete", "rows", n)
			}
			return nil
		case <-ticker.C:
			if _, err := s.FlushLocalStore(ctx); err != nil {
				s.logger.Error("Scheduled flush failed", "error", err)
			}
		}
	}
}
