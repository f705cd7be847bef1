package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/pkg/retry"
)

// DefaultPolicy retries any failure of table, reader and inline ingestion.
var DefaultPolicy = retry.Policy{
	Name:   "default",
	Config: retry.Fixed(5, 2*time.Second),
}

// StoragePolicy retries storage ingestion on failures that are not
// permanent, waiting longer between attempts.
var StoragePolicy = retry.Policy{
	Name:   "storage",
	Config: retry.Fixed(5, 30*time.Second),
	RetryIf: func(err error) bool {
		return !errors.IsPermanent(err)
	},
}

// Ingestor wraps a Client with retry policies.
type Ingestor struct {
	client        Client
	policy        retry.Policy
	storagePolicy retry.Policy
	logger        *slog.Logger
	metrics       *metric.Metrics
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithPolicies replaces the default and storage retry policies.
func WithPolicies(policy, storagePolicy retry.Policy) Option {
	return func(i *Ingestor) {
		i.policy = policy
		i.storagePolicy = storagePolicy
	}
}

// WithLogger sets the ingestor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithMetrics counts exhausted retries in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(i *Ingestor) {
		if registry != nil {
			i.metrics = registry.CoreMetrics()
		}
	}
}

// NewIngestor creates an Ingestor over client.
func NewIngestor(client Client, opts ...Option) *Ingestor {
	i := &Ingestor{
		client:        client,
		policy:        DefaultPolicy,
		storagePolicy: StoragePolicy,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingestor) run(ctx context.Context, policy retry.Policy, operation string, fn func() error) error {
	err := policy.WithNotify(func(attempt int, err error, wait time.Duration) {
		i.logger.Warn("Ingestion attempt failed, retrying",
			"operation", operation, "policy", policy.Name, "attempt", attempt, "retry_in", wait, "error", err)
	}).Do(ctx, fn)
	if err != nil {
		if i.metrics != nil {
			i.metrics.RecordIngestFailure(operation)
		}
		return errors.Wrap(err, "Ingestor", operation, "ingest")
	}
	return nil
}

// IngestFromDataTable ingests every row of table.
func (i *Ingestor) IngestFromDataTable(ctx context.Context, table *DataTable) error {
	if table == nil || table.Len() == 0 {
		return nil
	}
	return i.run(ctx, i.policy, "IngestFromDataTable", func() error {
		return i.client.IngestFromDataTable(ctx, table)
	})
}

// IngestFromDataReader ingests the rows of reader into database.table. The
// rows are buffered first so that every attempt sends the same rows.
func (i *Ingestor) IngestFromDataReader(ctx context.Context, database, table string, reader RowReader) error {
	dt, err := ReadAll(database, table, reader)
	if err != nil {
		return err
	}
	if dt.Len() == 0 {
		return nil
	}
	return i.run(ctx, i.policy, "IngestFromDataReader", func() error {
		return i.client.IngestFromDataReader(ctx, database, table, dt.Reader())
	})
}

// IngestInline ingests one row given as values in column order.
func (i *Ingestor) IngestInline(ctx context.Context, database, table string, values []any) error {
	command, err := InlineCommand(table, values)
	if err != nil {
		return err
	}
	return i.run(ctx, i.policy, "IngestInline", func() error {
		return i.client.ExecuteControlCommand(ctx, database, command)
	})
}

// IngestFromStorage ingests a blob by reference. Permanent failures are not
// retried.
func (i *Ingestor) IngestFromStorage(ctx context.Context, req StorageIngestion) error {
	if req.URI == "" || req.Database == "" || req.Table == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Ingestor", "IngestFromStorage", "validate request")
	}
	if req.Format == "" {
		req.Format = FormatJSON
	}
	return i.run(ctx, i.storagePolicy, "IngestFromStorage", func() error {
		return i.client.IngestFromStorage(ctx, req)
	})
}

// MappingColumn maps a JSON path of ingested documents to a table column.
type MappingColumn struct {
	Column string `json:"column"`
	Path   string `json:"path"`
}

// CreateTableMapping creates, or with replace set creates or alters, a JSON
// ingestion mapping for database.table.
func (i *Ingestor) CreateTableMapping(ctx context.Context, database, table, mapping string, columns []MappingColumn, replace bool) error {
	command, err := MappingCommand(table, mapping, columns, replace)
	if err != nil {
		return err
	}
	return i.run(ctx, i.policy, "CreateTableMapping", func() error {
		return i.client.ExecuteControlCommand(ctx, database, command)
	})
}

// InlineCommand builds the inline ingestion command for one row. Non-empty
// values are quoted with embedded quotes doubled; nil and empty values are
// left empty so the remaining values keep their column positions.
func InlineCommand(table string, values []any) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidArgument, "Ingestor", "IngestInline", "validate table")
	}
	fields := make([]string, len(values))
	for n, v := range values {
		s, err := FormatValue(v, ColumnString)
		if err != nil {
			return "", errors.WrapInvalid(err, "Ingestor", "IngestInline", fmt.Sprintf("format value %d", n))
		}
		if s != "" {
			s = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
		fields[n] = s
	}
	return fmt.Sprintf(".ingest inline into table %s <| %s", table, strings.Join(fields, ",")), nil
}

// MappingCommand builds the control command creating a JSON ingestion mapping.
func MappingCommand(table, mapping string, columns []MappingColumn, replace bool) (string, error) {
	if table == "" || mapping == "" || len(columns) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidArgument, "Ingestor", "CreateTableMapping", "validate mapping")
	}
	type entry struct {
		Column     string            `json:"column"`
		Properties map[string]string `json:"Properties"`
	}
	entries := make([]entry, len(columns))
	for n, c := range columns {
		entries[n] = entry{Column: c.Column, Properties: map[string]string{"Path": c.Path}}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return "", errors.WrapInvalid(err, "Ingestor", "CreateTableMapping", "encode mapping")
	}
	verb := ".create"
	if replace {
		verb = ".create-or-alter"
	}
	return fmt.Sprintf("%s table %s ingestion json mapping '%s' '%s'", verb, table, mapping, body), nil
}
