// Package ingest sends rows to the analytical store. It defines the typed row
// and table model, the remote ingestion client contract and the Ingestor,
// which wraps a client with named retry policies.
package ingest

import "context"

// DataFormat is the format of a blob ingested from storage.
type DataFormat string

// Supported storage formats
const (
	FormatJSON      DataFormat = "json"
	FormatMultiJSON DataFormat = "multijson"
	FormatCSV       DataFormat = "csv"
	FormatParquet   DataFormat = "parquet"
)

// StorageIngestion describes ingestion of a blob by reference.
type StorageIngestion struct {
	URI         string
	Database    string
	Table       string
	MappingName string
	Format      DataFormat
}

// Client is the remote ingestion client. Implementations classify failures
// through the errors package; permanent ones are Invalid or Fatal.
type Client interface {
	IngestFromDataTable(ctx context.Context, table *DataTable) error
	IngestFromDataReader(ctx context.Context, database, table string, reader RowReader) error
	IngestFromStorage(ctx context.Context, req StorageIngestion) error
	ExecuteControlCommand(ctx context.Context, database, command string) error
}
