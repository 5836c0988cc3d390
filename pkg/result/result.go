// Package result exposes a SQL_BATCH response as a lazy, finite sequence
// of column-major chunks: the token parser advances only as far as the
// next chunk requires. The response message itself has already been read
// whole from the socket by conn.ExecuteBatch.
package result

import (
	"context"
	"io"

	"github.com/ha1tch/mssqlext/pkg/conn"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/tds"
)

// DefaultChunkWidth is the target row count per chunk.
const DefaultChunkWidth = 2048

// Chunk is one column-major vector batch: Values[i] holds Columns[i]'s
// values for this chunk, all of equal length (RowCount).
type Chunk struct {
	Columns  []tds.Column
	Values   [][]interface{}
	RowCount int
}

// Result is the lazily-pulled response to one SQL_BATCH. Scan must be
// called to obtain one before pulling chunks.
type Result struct {
	c          *conn.Conn
	tr         *tds.TokenReader
	columns    []tds.Column
	chunkWidth int
	done       bool
}

// Scan drains tr until it finds the first result set that carries
// COLMETADATA, per the multi-statement rule: statements before it (DDL,
// DML without OUTPUT) are drained silently. An ERROR encountered anywhere
// during the scan - even ahead of a later statement that would have
// produced rows - is surfaced immediately. If the batch ends with no
// COLMETADATA and no error, Result reports an empty column set.
func Scan(c *conn.Conn, tr *tds.TokenReader) (*Result, error) {
	return ScanWidth(c, tr, DefaultChunkWidth)
}

// ScanWidth is Scan with an explicit chunk width, mainly for tests.
func ScanWidth(c *conn.Conn, tr *tds.TokenReader, chunkWidth int) (*Result, error) {
	r := &Result{c: c, tr: tr, chunkWidth: chunkWidth}
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			c.MarkIdle()
			r.done = true
			return r, nil
		}
		if err != nil {
			return nil, err
		}
		switch tok {
		case tds.TokenColMetadata:
			r.columns = v.([]tds.Column)
			return r, nil
		case tds.TokenEnvChange:
			c.ApplyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			return nil, v.(*tdserrors.ServerError)
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			if !d.More() {
				c.MarkIdle()
				r.done = true
				return r, nil
			}
		}
	}
}

// Columns reports the result set's column metadata, or nil for an empty
// column set.
func (r *Result) Columns() []tds.Column {
	return r.columns
}

// NextChunk pulls and parses the next chunk, up to chunkWidth rows, or
// fewer at end of stream. It returns io.EOF once the result set is
// exhausted (the connection has already been returned to Idle by then).
func (r *Result) NextChunk(ctx context.Context) (*Chunk, error) {
	if r.done {
		return nil, io.EOF
	}

	chunk := &Chunk{Columns: r.columns, Values: make([][]interface{}, len(r.columns))}
	for i := range chunk.Values {
		chunk.Values[i] = make([]interface{}, 0, r.chunkWidth)
	}

	for chunk.RowCount < r.chunkWidth {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, v, err := r.tr.Next()
		if err == io.EOF {
			r.done = true
			r.c.MarkIdle()
			return r.flush(chunk)
		}
		if err != nil {
			return nil, err
		}

		switch tok {
		case tds.TokenRow, tds.TokenNBCRow:
			row := v.(tds.Row)
			for i, val := range row {
				chunk.Values[i] = append(chunk.Values[i], val)
			}
			chunk.RowCount++
		case tds.TokenEnvChange:
			r.c.ApplyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			return nil, v.(*tdserrors.ServerError)
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			r.done = true
			if !d.More() {
				r.c.MarkIdle()
			} else {
				// More statements follow this result set; this client
				// returns only the first result set, so the remainder of
				// the batch is drained and discarded to keep the
				// connection reusable.
				if err := r.drainRest(); err != nil {
					return nil, err
				}
			}
			return r.flush(chunk)
		}
	}
	return r.flush(chunk)
}

func (r *Result) flush(chunk *Chunk) (*Chunk, error) {
	if chunk.RowCount == 0 && r.done {
		return nil, io.EOF
	}
	return chunk, nil
}

// drainRest consumes any statements remaining after the returned result
// set, applying ENVCHANGEs and surfacing the first ERROR, until the final
// DONE (DONE_MORE clear) marks the connection Idle again.
func (r *Result) drainRest() error {
	var firstErr error
	for {
		tok, v, err := r.tr.Next()
		if err == io.EOF {
			return firstErr
		}
		if err != nil {
			return err
		}
		switch tok {
		case tds.TokenEnvChange:
			r.c.ApplyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			if firstErr == nil {
				firstErr = v.(*tdserrors.ServerError)
			}
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			if !d.More() {
				r.c.MarkIdle()
				return firstErr
			}
		}
	}
}

// Close abandons the result set, draining any unread tokens so the
// connection can be returned to the pool. Safe to call after the result
// has already been fully consumed.
func (r *Result) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.drainRest()
}
