// Package bulk implements the BulkLoadBCP writer: an INSERT BULK
// statement sent once as an ordinary SQL batch to open the load, then
// one or more BULK_LOAD messages each carrying a COLMETADATA token, a
// flush-batched sequence of ROW tokens, and a final DONE. Fabric
// endpoints, which don't support INSERT BULK, are detected up front and
// either rejected or routed to the batched-INSERT fallback.
package bulk

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ha1tch/mssqlext/pkg/conn"
	"github.com/ha1tch/mssqlext/pkg/dml"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/tds"
)

// DefaultFlushRows is the row-count threshold at which a DONE is sent and
// a new COLMETADATA+rows segment begins (default 100 000 rows).
const DefaultFlushRows = 100_000

var fabricHostPattern = regexp.MustCompile(`(?i)\.(datawarehouse\.fabric\.microsoft\.com|pbidedicated\.windows\.net)$`)

// IsFabricEndpoint reports whether host is a Microsoft Fabric / Azure
// Synapse dedicated-pool endpoint, neither of which supports INSERT BULK.
func IsFabricEndpoint(host string) bool {
	return fabricHostPattern.MatchString(strings.TrimSuffix(host, "."))
}

// FallbackMode controls what happens when the target endpoint is Fabric.
type FallbackMode int

const (
	// FailFast returns an error at attach/open time rather than attempt
	// INSERT BULK against an endpoint that will reject it.
	FailFast FallbackMode = iota
	// FallbackToInsert silently routes all writes through pkg/dml's
	// batched INSERT path instead.
	FallbackToInsert
)

// Options configures a Writer.
type Options struct {
	FlushRows int
	Fallback  FallbackMode
	IsFabric  bool // precomputed at attach time from the endpoint hostname
}

// Writer accumulates rows for one bulk load and flushes them as BULK_LOAD
// messages on c.
type Writer struct {
	c       *conn.Conn
	schema  string
	table   string
	columns []tds.Column
	opts    Options

	buf      bytes.Buffer
	rowCount int
	opened   bool // INSERT BULK statement has been acknowledged by the server
	started  bool // current segment's buffer holds an unflushed COLMETADATA+rows
}

// New returns a Writer for schema.table with the given column metadata,
// after checking the Fabric/fallback policy. Returns (nil, nil) when the
// endpoint is Fabric and Fallback is FallbackToInsert, signalling the
// caller to use pkg/dml's INSERT path instead.
func New(c *conn.Conn, schema, table string, columns []tds.Column, opts Options) (*Writer, error) {
	if opts.FlushRows <= 0 {
		opts.FlushRows = DefaultFlushRows
	}
	if opts.IsFabric {
		if opts.Fallback == FallbackToInsert {
			return nil, nil
		}
		return nil, tdserrors.NewProtocolError(
			"bulk load is not supported against Fabric/Synapse dedicated-pool endpoints; use batched INSERT")
	}
	return &Writer{c: c, schema: schema, table: table, columns: columns, opts: opts}, nil
}

// AddRow appends one row to the pending segment, flushing to the
// connection when the row count reaches opts.FlushRows.
func (w *Writer) AddRow(ctx context.Context, values []interface{}) error {
	if !w.opened {
		if err := w.open(ctx); err != nil {
			return err
		}
	}
	if !w.started {
		tds.WriteBulkColMetadata(&w.buf, w.columns)
		w.started = true
	}
	if err := tds.WriteBulkRow(&w.buf, w.columns, values); err != nil {
		w.c.Close()
		return err
	}
	w.rowCount++

	if w.rowCount >= w.opts.FlushRows {
		return w.flush(ctx)
	}
	return nil
}

// open sends the INSERT BULK statement as an ordinary SQL batch, once per
// Writer lifetime; the server's DONE acknowledges that it is ready to
// receive the BULK_LOAD token stream that follows. Every segment after
// the first reuses the column metadata the server already agreed to.
func (w *Writer) open(ctx context.Context) error {
	tr, err := w.c.ExecuteBatch(ctx, w.insertBulkStatement())
	if err != nil {
		return err
	}
	if err := w.c.DrainToIdle(tr); err != nil {
		return err
	}
	w.opened = true
	return nil
}

func (w *Writer) insertBulkStatement() string {
	cols := make([]string, len(w.columns))
	for i, c := range w.columns {
		cols[i] = dml.EscapeIdent(c.Name) + " " + bulkColumnDDL(c)
	}
	return "INSERT BULK " + dml.QualifiedName(w.schema, w.table) + " (" + strings.Join(cols, ",") + ")"
}

// bulkColumnDDL renders the T-SQL type syntax INSERT BULK expects in its
// column list, including length/precision/scale qualifiers the bare
// SQLType name omits.
func bulkColumnDDL(c tds.Column) string {
	switch c.Type {
	case tds.TypeNVarChar, tds.TypeBigVarChar, tds.TypeBigChar, tds.TypeNChar:
		if c.Type.IsPLP(c.Length) || c.Length == 0xFFFF {
			return c.Type.String() + "(MAX)"
		}
		n := c.Length
		if c.Type == tds.TypeNVarChar || c.Type == tds.TypeNChar {
			n /= 2
		}
		return c.Type.String() + "(" + itoa(int(n)) + ")"
	case tds.TypeBigVarBin, tds.TypeBigBinary:
		if c.Type.IsPLP(c.Length) || c.Length == 0xFFFF {
			return c.Type.String() + "(MAX)"
		}
		return c.Type.String() + "(" + itoa(int(c.Length)) + ")"
	case tds.TypeDecimalN, tds.TypeNumericN, tds.TypeDecimal, tds.TypeNumeric:
		return c.Type.String() + "(" + itoa(int(c.Precision)) + "," + itoa(int(c.Scale)) + ")"
	case tds.TypeDateTime2N, tds.TypeTimeN, tds.TypeDateTimeOffsetN:
		return c.Type.String() + "(" + itoa(int(c.Scale)) + ")"
	default:
		return c.Type.String()
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// flush sends the pending segment (COLMETADATA + rows + DONE) as one
// BULK_LOAD message and starts a new segment.
func (w *Writer) flush(ctx context.Context) error {
	if !w.started {
		return nil
	}
	var tail bytes.Buffer
	tail.WriteByte(byte(tds.TokenDone))
	tail.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}) // status(2) curcmd(2) rowcount(8), all zero: final

	payload := append(append([]byte(nil), w.buf.Bytes()...), tail.Bytes()...)
	if err := w.c.ExecuteBulk(ctx, payload); err != nil {
		return err
	}

	w.buf.Reset()
	w.rowCount = 0
	w.started = false
	return nil
}

// Close flushes any pending rows as the final segment.
func (w *Writer) Close(ctx context.Context) error {
	return w.flush(ctx)
}
