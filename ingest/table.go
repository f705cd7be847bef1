package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

// ColumnType is a scalar type of the analytical store.
type ColumnType int

// Supported column types
const (
	ColumnString ColumnType = iota
	ColumnInt
	ColumnLong
	ColumnReal
	ColumnDecimal
	ColumnBool
	ColumnDateTime
	ColumnTimeSpan
	ColumnGUID
	ColumnDynamic
)

var columnTypeNames = [...]string{
	ColumnString:   "string",
	ColumnInt:      "int",
	ColumnLong:     "long",
	ColumnReal:     "real",
	ColumnDecimal:  "decimal",
	ColumnBool:     "bool",
	ColumnDateTime: "datetime",
	ColumnTimeSpan: "timespan",
	ColumnGUID:     "guid",
	ColumnDynamic:  "dynamic",
}

// String returns the type name as used in table schemas.
func (t ColumnType) String() string {
	if t < 0 || int(t) >= len(columnTypeNames) {
		return "unknown"
	}
	return columnTypeNames[t]
}

// ParseColumnType parses a schema type name. "double" and "object" are
// accepted as aliases of real and dynamic.
func ParseColumnType(name string) (ColumnType, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "double":
		return ColumnReal, nil
	case "object":
		return ColumnDynamic, nil
	default:
		for i, known := range columnTypeNames {
			if known == n {
				return ColumnType(i), nil
			}
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("%w: unknown column type %q", errors.ErrInvalidArgument, name),
		"ColumnType", "ParseColumnType", "parse column type")
}

// Column is a named, typed table column.
type Column struct {
	Name string
	Type ColumnType
}

// ColumnValue is the value of one column in a row.
type ColumnValue struct {
	Column Column
	Value  any
}

// Row is a pending write to one table, with values in column order.
type Row struct {
	Database string
	Table    string
	Values   []ColumnValue
}

// TableKey identifies a destination table. Names are kept apart rather than
// joined, since database and table names may themselves contain dots.
type TableKey struct {
	Database string
	Table    string
}

// Less orders keys by database, then table.
func (k TableKey) Less(other TableKey) bool {
	if k.Database != other.Database {
		return k.Database < other.Database
	}
	return k.Table < other.Table
}

// String returns the dotted form used in logs.
func (k TableKey) String() string {
	return k.Database + "." + k.Table
}

// Key returns the destination rows are grouped by.
func (r Row) Key() TableKey {
	return TableKey{Database: r.Database, Table: r.Table}
}

// Columns returns the row's column schema.
func (r Row) Columns() []Column {
	cols := make([]Column, len(r.Values))
	for i, v := range r.Values {
		cols[i] = v.Column
	}
	return cols
}

// DataTable is an in-memory table bound for one destination.
type DataTable struct {
	Database string
	Table    string
	Columns  []Column
	Rows     [][]any
}

// NewDataTable creates an empty table with the given schema.
func NewDataTable(database, table string, columns []Column) *DataTable {
	return &DataTable{
		Database: database,
		Table:    table,
		Columns:  columns,
	}
}

// AddRow appends a row. The values must match the table columns in name,
// type and order.
func (t *DataTable) AddRow(values []ColumnValue) error {
	if len(values) != len(t.Columns) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: got %d values for %d columns", errors.ErrSchemaMismatch, len(values), len(t.Columns)),
			"DataTable", "AddRow", "match columns")
	}
	row := make([]any, len(values))
	for i, v := range values {
		if v.Column != t.Columns[i] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: column %d is %s:%s, table expects %s:%s", errors.ErrSchemaMismatch,
					i, v.Column.Name, v.Column.Type, t.Columns[i].Name, t.Columns[i].Type),
				"DataTable", "AddRow", "match columns")
		}
		row[i] = v.Value
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Len returns the number of rows.
func (t *DataTable) Len() int {
	return len(t.Rows)
}

// Reader returns a reader over the table rows.
func (t *DataTable) Reader() RowReader {
	return NewRecordReader(t.Columns, t.Rows)
}

// WriteCSV renders the rows as CSV without a header, in column order.
func (t *DataTable) WriteCSV(w io.Writer) error {
	return WriteCSV(w, t.Reader())
}

// RowReader iterates over rows of a fixed schema.
type RowReader interface {
	Columns() []Column
	Next() bool
	Values() []any
	Err() error
}

type recordReader struct {
	columns []Column
	records [][]any
	pos     int
}

// NewRecordReader returns a RowReader over records.
func NewRecordReader(columns []Column, records [][]any) RowReader {
	return &recordReader{columns: columns, records: records, pos: -1}
}

func (r *recordReader) Columns() []Column { return r.columns }

func (r *recordReader) Next() bool {
	if r.pos+1 >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *recordReader) Values() []any { return r.records[r.pos] }

func (r *recordReader) Err() error { return nil }

// ReadAll buffers every row of reader into a table for database.table.
func ReadAll(database, table string, reader RowReader) (*DataTable, error) {
	dt := NewDataTable(database, table, reader.Columns())
	for reader.Next() {
		values := reader.Values()
		if len(values) != len(dt.Columns) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: got %d values for %d columns", errors.ErrSchemaMismatch, len(values), len(dt.Columns)),
				"RowReader", "ReadAll", "read row")
		}
		dt.Rows = append(dt.Rows, append([]any(nil), values...))
	}
	if err := reader.Err(); err != nil {
		return nil, errors.Wrap(err, "RowReader", "ReadAll", "read rows")
	}
	return dt, nil
}

// WriteCSV renders every row of reader as CSV without a header.
func WriteCSV(w io.Writer, reader RowReader) error {
	cw := csv.NewWriter(w)
	columns := reader.Columns()
	record := make([]string, len(columns))
	for reader.Next() {
		values := reader.Values()
		for i, col := range columns {
			var v any
			if i < len(values) {
				v = values[i]
			}
			s, err := FormatValue(v, col.Type)
			if err != nil {
				return errors.WrapInvalid(err, "RowReader", "WriteCSV", fmt.Sprintf("format column %s", col.Name))
			}
			record[i] = s
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "RowReader", "WriteCSV", "write record")
		}
	}
	if err := reader.Err(); err != nil {
		return errors.Wrap(err, "RowReader", "WriteCSV", "read rows")
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders v as the store's textual literal for a column of type
// typ. Nil renders as the empty string.
func FormatValue(v any, typ ColumnType) (string, error) {
	if v == nil {
		return "", nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return formatTimeSpan(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	if typ == ColumnDynamic {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	return fmt.Sprint(v), nil
}

// formatTimeSpan renders d as [-]d.hh:mm:ss.fffffff.
func formatTimeSpan(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%s%d.%02d:%02d:%02d.%07d", sign, days, h, m, s, d/100)
}
