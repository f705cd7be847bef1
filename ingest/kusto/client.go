// Package kusto is an ingest.Client backed by the Azure Data Explorer SDK.
// Control commands go through the management endpoint, tables and readers
// are streamed as CSV per destination table, and blobs are handed to queued
// ingestion by URI.
package kusto

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-kusto-go/kusto"
	kerrors "github.com/Azure/azure-kusto-go/kusto/data/errors"
	kingest "github.com/Azure/azure-kusto-go/kusto/ingest"
	"github.com/Azure/azure-kusto-go/kusto/kql"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
)

const appName = "twinplatform"

var _ ingest.Client = (*Client)(nil)

// Config configures the client.
type Config struct {
	Endpoint string
	// ClientID and ClientSecret authenticate as an AAD application in
	// TenantID. Token authenticates with a pre-acquired application token.
	// With neither, the default Azure credential chain is used.
	ClientID     string
	ClientSecret string
	TenantID     string
	Token        string

	// Timeout bounds each call; 0 means 30s.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; 0 disables the limit.
	RequestsPerSecond float64
	Burst             int
}

type mgmtRunner interface {
	Mgmt(ctx context.Context, db string, query kusto.Statement, options ...kusto.QueryOption) (*kusto.RowIterator, error)
}

type streamer interface {
	FromReader(ctx context.Context, reader io.Reader, options ...kingest.FileOption) (*kingest.Result, error)
	Close() error
}

type queuer interface {
	FromFile(ctx context.Context, fPath string, options ...kingest.FileOption) (*kingest.Result, error)
	Close() error
}

// Client talks to one cluster. It keeps one streaming and one queued
// ingestor per destination table.
type Client struct {
	mgmt    mgmtRunner
	closer  io.Closer
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	newStreamer func(database, table string) (streamer, error)
	newQueuer   func(database, table string) (queuer, error)

	mu        sync.Mutex
	streamers map[ingest.TableKey]streamer
	queuers   map[ingest.TableKey]queuer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ConnectionString builds the SDK connection string for cfg.
func ConnectionString(cfg Config) *kusto.ConnectionStringBuilder {
	kcsb := kusto.NewConnectionStringBuilder(cfg.Endpoint)
	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		return kcsb.WithAadAppKey(cfg.ClientID, cfg.ClientSecret, cfg.TenantID)
	case cfg.Token != "":
		return kcsb.WithApplicationToken(cfg.ClientID, cfg.Token)
	default:
		return kcsb.WithDefaultAzureCredential()
	}
}

// New connects a client to cfg.Endpoint.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapFatal(fmt.Errorf("%w: endpoint is required", errors.ErrInvalidConfig),
			"Client", "New", "validate config")
	}
	sdk, err := kusto.New(ConnectionString(cfg))
	if err != nil {
		return nil, errors.WrapFatal(err, "Client", "New", "create kusto client")
	}

	c := newClient(cfg, sdk, sdk, opts...)
	c.newStreamer = func(database, table string) (streamer, error) {
		s, err := kingest.NewStreaming(sdk, database, table)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	c.newQueuer = func(database, table string) (queuer, error) {
		q, err := kingest.New(sdk, database, table)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return c, nil
}

func newClient(cfg Config, mgmt mgmtRunner, closer io.Closer, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		mgmt:      mgmt,
		closer:    closer,
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    slog.Default(),
		streamers: make(map[ingest.TableKey]streamer),
		queuers:   make(map[ingest.TableKey]queuer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteControlCommand runs a management command against database.
func (c *Client) ExecuteControlCommand(ctx context.Context, database, command string) error {
	ctx, cancel, err := c.begin(ctx, "ExecuteControlCommand")
	if err != nil {
		return err
	}
	defer cancel()

	requestID := appName + ";" + uuid.NewString()
	iter, err := c.mgmt.Mgmt(ctx, database, kql.New("").AddUnsafe(command),
		kusto.Application(appName), kusto.ClientRequestID(requestID))
	if err != nil {
		c.logger.Warn("Control command failed", "database", database, "request_id", requestID, "error", err)
		return classify(err, "ExecuteControlCommand", "run control command")
	}
	if iter != nil {
		iter.Stop()
	}
	c.logger.Debug("Control command complete", "database", database, "request_id", requestID)
	return nil
}

// IngestFromStorage queues ingestion of a blob by reference.
func (c *Client) IngestFromStorage(ctx context.Context, req ingest.StorageIngestion) error {
	ctx, cancel, err := c.begin(ctx, "IngestFromStorage")
	if err != nil {
		return err
	}
	defer cancel()

	q, err := c.queuer(req.Database, req.Table)
	if err != nil {
		return err
	}
	if _, err := q.FromFile(ctx, req.URI, StorageOptions(req)...); err != nil {
		return classify(err, "IngestFromStorage", fmt.Sprintf("queue blob into %s.%s", req.Database, req.Table))
	}
	c.logger.Debug("Queued storage ingestion", "database", req.Database, "table", req.Table, "format", storageFormat(req))
	return nil
}

// IngestFromDataTable streams the table rows as CSV.
func (c *Client) IngestFromDataTable(ctx context.Context, table *ingest.DataTable) error {
	return c.IngestFromDataReader(ctx, table.Database, table.Table, table.Reader())
}

// IngestFromDataReader streams the reader rows as CSV into database.table.
func (c *Client) IngestFromDataReader(ctx context.Context, database, table string, reader ingest.RowReader) error {
	var buf bytes.Buffer
	if err := ingest.WriteCSV(&buf, reader); err != nil {
		return err
	}

	ctx, cancel, err := c.begin(ctx, "IngestFromDataReader")
	if err != nil {
		return err
	}
	defer cancel()

	s, err := c.streamer(database, table)
	if err != nil {
		return err
	}
	if _, err := s.FromReader(ctx, &buf, kingest.FileFormat(kingest.CSV)); err != nil {
		return classify(err, "IngestFromDataReader", fmt.Sprintf("stream into %s.%s", database, table))
	}
	return nil
}

// Close releases the per-table ingestors and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, s := range c.streamers {
		errs = append(errs, s.Close())
		delete(c.streamers, key)
	}
	for key, q := range c.queuers {
		errs = append(errs, q.Close())
		delete(c.queuers, key)
	}
	if c.closer != nil {
		errs = append(errs, c.closer.Close())
		c.closer = nil
	}
	return errors.Wrap(stderrors.Join(errs...), "Client", "Close", "close ingestors")
}

func (c *Client) begin(ctx context.Context, method string) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "Client", method, "wait for rate limit")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func (c *Client) streamer(database, table string) (streamer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ingest.TableKey{Database: database, Table: table}
	if s, ok := c.streamers[key]; ok {
		return s, nil
	}
	s, err := c.newStreamer(database, table)
	if err != nil {
		return nil, classify(err, "IngestFromDataReader", fmt.Sprintf("create streaming ingestor for %s", key))
	}
	c.streamers[key] = s
	return s, nil
}

func (c *Client) queuer(database, table string) (queuer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ingest.TableKey{Database: database, Table: table}
	if q, ok := c.queuers[key]; ok {
		return q, nil
	}
	q, err := c.newQueuer(database, table)
	if err != nil {
		return nil, classify(err, "IngestFromStorage", fmt.Sprintf("create queued ingestor for %s", key))
	}
	c.queuers[key] = q
	return q, nil
}

// classify maps an SDK failure onto the errors classes. Errors the SDK marks
// as not retryable are invalid; the rest, timeouts and transport failures
// outside the SDK's error type are transient. Cancellation stays permanent.
func classify(err error, method, action string) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, "Client", method, action)
	}
	var kerr *kerrors.Error
	if stderrors.As(err, &kerr) && !kerrors.Retry(err) {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrRequestRejected, err), "Client", method, action)
	}
	return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrServiceFailure, err), "Client", method, action)
}

func storageFormat(req ingest.StorageIngestion) ingest.DataFormat {
	if req.Format == "" {
		return ingest.FormatJSON
	}
	return req.Format
}

// StorageOptions returns the SDK file options for a blob ingestion: its
// format, defaulting to JSON, and the mapping reference when one is named.
func StorageOptions(req ingest.StorageIngestion) []kingest.FileOption {
	format := sdkFormat(storageFormat(req))
	opts := []kingest.FileOption{kingest.FileFormat(format)}
	if req.MappingName != "" {
		opts = append(opts, kingest.IngestionMappingRef(req.MappingName, format))
	}
	return opts
}

func sdkFormat(f ingest.DataFormat) kingest.DataFormat {
	switch f {
	case ingest.FormatCSV:
		return kingest.CSV
	case ingest.FormatMultiJSON:
		return kingest.MultiJSON
	case ingest.FormatParquet:
		return kingest.Parquet
	default:
		return kingest.JSON
	}
}
