package dml

import (
	"fmt"
	"strings"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// DefaultMaxParams and DefaultMaxBytes (reused from insert.go's byte
// threshold) are the UPDATE/DELETE batch-accumulator flush thresholds,
// batching by parameter count (default max 2000) and byte
// size".
const DefaultMaxParams = 2000

// RowID is an ordered tuple of primary-key values: one element for a
// scalar PK, N elements for a composite PK, always in PKColumns order.
type RowID []interface{}

// UpdateOptions configures an UpdateBuilder/DeleteBuilder.
type UpdateOptions struct {
	MaxParams int
	MaxBytes  int
}

// UpdateBuilder accumulates (rowid, new-values) pairs into batched
// VALUES-JOIN UPDATE statements.
type UpdateBuilder struct {
	schema, table string
	pkColumns     []ColumnSpec
	setColumns    []ColumnSpec
	opts          UpdateOptions

	rows      []string
	paramCount int
	byteSize  int
}

// NewUpdateBuilder returns a builder targeting schema.table, keyed by
// pkColumns, setting setColumns.
func NewUpdateBuilder(schema, table string, pkColumns, setColumns []ColumnSpec, opts UpdateOptions) *UpdateBuilder {
	if opts.MaxParams <= 0 {
		opts.MaxParams = DefaultMaxParams
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &UpdateBuilder{schema: schema, table: table, pkColumns: pkColumns, setColumns: setColumns, opts: opts}
}

// AddRow formats one (id, newValues) pair and appends it to the pending
// VALUES list, flushing and returning a completed statement once a
// threshold is reached.
func (b *UpdateBuilder) AddRow(id RowID, newValues []interface{}) (statement string, flushed bool, err error) {
	if len(id) != len(b.pkColumns) {
		return "", false, tdserrors.NewProtocolError("dml: rowid has %d fields, expected %d", len(id), len(b.pkColumns))
	}
	if len(newValues) != len(b.setColumns) {
		return "", false, tdserrors.NewProtocolError("dml: %d values, expected %d set columns", len(newValues), len(b.setColumns))
	}

	tuple, err := b.formatTuple(id, newValues)
	if err != nil {
		return "", false, err
	}
	b.rows = append(b.rows, tuple)
	b.paramCount += len(id) + len(newValues)
	b.byteSize += len(tuple)

	if b.paramCount >= b.opts.MaxParams || b.byteSize >= b.opts.MaxBytes {
		return b.flush(), true, nil
	}
	return "", false, nil
}

func (b *UpdateBuilder) formatTuple(id RowID, newValues []interface{}) (string, error) {
	parts := make([]string, 0, len(id)+len(newValues))
	for i, v := range id {
		lit, err := FormatLiteral(v, b.pkColumns[i].SQLType)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	for i, v := range newValues {
		lit, err := FormatLiteral(v, b.setColumns[i].SQLType)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// Flush returns the pending batch as a single UPDATE statement.
func (b *UpdateBuilder) Flush() (statement string, ok bool) {
	if len(b.rows) == 0 {
		return "", false
	}
	return b.flush(), true
}

func (b *UpdateBuilder) flush() string {
	stmt := b.buildStatement(b.rows)
	b.rows = nil
	b.paramCount = 0
	b.byteSize = 0
	return stmt
}

func (b *UpdateBuilder) buildStatement(rows []string) string {
	srcCols := make([]string, 0, len(b.pkColumns)+len(b.setColumns))
	for _, c := range b.pkColumns {
		srcCols = append(srcCols, EscapeIdent(c.Name))
	}
	for _, c := range b.setColumns {
		srcCols = append(srcCols, EscapeIdent("new_"+c.Name))
	}

	sets := make([]string, len(b.setColumns))
	for i, c := range b.setColumns {
		sets[i] = fmt.Sprintf("t.%s = src.%s", EscapeIdent(c.Name), EscapeIdent("new_"+c.Name))
	}

	joins := make([]string, len(b.pkColumns))
	for i, c := range b.pkColumns {
		joins[i] = fmt.Sprintf("t.%s = src.%s", EscapeIdent(c.Name), EscapeIdent(c.Name))
	}

	var sb strings.Builder
	sb.WriteString("UPDATE t SET ")
	sb.WriteString(strings.Join(sets, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(QualifiedName(b.schema, b.table))
	sb.WriteString(" AS t JOIN (VALUES ")
	sb.WriteString(strings.Join(rows, ","))
	sb.WriteString(") AS src(")
	sb.WriteString(strings.Join(srcCols, ","))
	sb.WriteString(") ON ")
	sb.WriteString(strings.Join(joins, " AND "))
	return sb.String()
}

// DeleteBuilder accumulates rowids into batched VALUES-JOIN DELETE
// statements.
type DeleteBuilder struct {
	schema, table string
	pkColumns     []ColumnSpec
	opts          UpdateOptions

	rows       []string
	paramCount int
	byteSize   int
}

// NewDeleteBuilder returns a builder targeting schema.table, keyed by
// pkColumns.
func NewDeleteBuilder(schema, table string, pkColumns []ColumnSpec, opts UpdateOptions) *DeleteBuilder {
	if opts.MaxParams <= 0 {
		opts.MaxParams = DefaultMaxParams
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &DeleteBuilder{schema: schema, table: table, pkColumns: pkColumns, opts: opts}
}

// AddRow appends one rowid to the pending DELETE batch.
func (b *DeleteBuilder) AddRow(id RowID) (statement string, flushed bool, err error) {
	if len(id) != len(b.pkColumns) {
		return "", false, tdserrors.NewProtocolError("dml: rowid has %d fields, expected %d", len(id), len(b.pkColumns))
	}

	parts := make([]string, len(id))
	for i, v := range id {
		lit, err := FormatLiteral(v, b.pkColumns[i].SQLType)
		if err != nil {
			return "", false, err
		}
		parts[i] = lit
	}
	tuple := "(" + strings.Join(parts, ",") + ")"
	b.rows = append(b.rows, tuple)
	b.paramCount += len(id)
	b.byteSize += len(tuple)

	if b.paramCount >= b.opts.MaxParams || b.byteSize >= b.opts.MaxBytes {
		return b.flush(), true, nil
	}
	return "", false, nil
}

// Flush returns the pending batch as a single DELETE statement.
func (b *DeleteBuilder) Flush() (statement string, ok bool) {
	if len(b.rows) == 0 {
		return "", false
	}
	return b.flush(), true
}

func (b *DeleteBuilder) flush() string {
	stmt := b.buildStatement(b.rows)
	b.rows = nil
	b.paramCount = 0
	b.byteSize = 0
	return stmt
}

func (b *DeleteBuilder) buildStatement(rows []string) string {
	srcCols := make([]string, len(b.pkColumns))
	joins := make([]string, len(b.pkColumns))
	for i, c := range b.pkColumns {
		srcCols[i] = EscapeIdent(c.Name)
		joins[i] = fmt.Sprintf("t.%s = src.%s", EscapeIdent(c.Name), EscapeIdent(c.Name))
	}

	var sb strings.Builder
	sb.WriteString("DELETE t FROM ")
	sb.WriteString(QualifiedName(b.schema, b.table))
	sb.WriteString(" AS t JOIN (VALUES ")
	sb.WriteString(strings.Join(rows, ","))
	sb.WriteString(") AS src(")
	sb.WriteString(strings.Join(srcCols, ","))
	sb.WriteString(") ON ")
	sb.WriteString(strings.Join(joins, " AND "))
	return sb.String()
}
