package dml

import (
	"strings"
)

// DefaultMaxRows and DefaultMaxBytes are the batch-accumulator flush
// thresholds for INSERT (default 1000 rows, 8 MiB).
const (
	DefaultMaxRows  = 1000
	DefaultMaxBytes = 8 << 20
)

// ColumnSpec names a target column and its SQL type, for literal
// formatting (the N-prefix decision) and OUTPUT/type-mapping purposes.
type ColumnSpec struct {
	Name    string
	SQLType string
}

// InsertOptions configures an InsertBuilder.
type InsertOptions struct {
	MaxRows    int
	MaxBytes   int
	Returning  []string // column names; translated to OUTPUT INSERTED.col
}

// InsertBuilder accumulates rows into batched INSERT statements, flushing
// when either the row-count or byte-size threshold is reached.
type InsertBuilder struct {
	schema, table string
	columns       []ColumnSpec
	opts          InsertOptions

	rows     []string
	byteSize int
}

// NewInsertBuilder returns a builder targeting schema.table with the
// given column list.
func NewInsertBuilder(schema, table string, columns []ColumnSpec, opts InsertOptions) *InsertBuilder {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &InsertBuilder{schema: schema, table: table, columns: columns, opts: opts}
}

// AddRow formats values (one per column, in column order) and appends the
// row tuple to the pending batch. If the batch has now reached a flush
// threshold, it returns the completed INSERT statement and flushed=true;
// the caller must send it before calling AddRow again.
func (b *InsertBuilder) AddRow(values []interface{}) (statement string, flushed bool, err error) {
	tuple, err := b.formatTuple(values)
	if err != nil {
		return "", false, err
	}
	b.rows = append(b.rows, tuple)
	b.byteSize += len(tuple)

	if len(b.rows) >= b.opts.MaxRows || b.byteSize >= b.opts.MaxBytes {
		return b.flush(), true, nil
	}
	return "", false, nil
}

func (b *InsertBuilder) formatTuple(values []interface{}) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		lit, err := FormatLiteral(v, b.columns[i].SQLType)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// Flush returns the pending batch as a single INSERT statement (empty,
// ok=false if nothing is pending) and clears the accumulator.
func (b *InsertBuilder) Flush() (statement string, ok bool) {
	if len(b.rows) == 0 {
		return "", false
	}
	return b.flush(), true
}

func (b *InsertBuilder) flush() string {
	stmt := b.buildStatement(b.rows)
	b.rows = nil
	b.byteSize = 0
	return stmt
}

func (b *InsertBuilder) buildStatement(rows []string) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(QualifiedName(b.schema, b.table))
	sb.WriteString(" (")
	names := make([]string, len(b.columns))
	for i, c := range b.columns {
		names[i] = EscapeIdent(c.Name)
	}
	sb.WriteString(strings.Join(names, ","))
	sb.WriteString(")")

	if len(b.opts.Returning) > 0 {
		out := make([]string, len(b.opts.Returning))
		for i, c := range b.opts.Returning {
			out[i] = "INSERTED." + EscapeIdent(c)
		}
		sb.WriteString(" OUTPUT ")
		sb.WriteString(strings.Join(out, ","))
	}

	sb.WriteString(" VALUES ")
	sb.WriteString(strings.Join(rows, ","))
	return sb.String()
}
