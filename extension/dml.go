package extension

import (
	"context"

	"github.com/ha1tch/mssqlext/pkg/conn"
	"github.com/ha1tch/mssqlext/pkg/dml"
	"github.com/ha1tch/mssqlext/pkg/txn"
)

// rowSource supplies the rows a DML plan hook writes, one at a time,
// io.EOF-style via a bool return rather than an error so a planner-side
// iterator (arrow batch, vector cursor, whatever the host engine uses)
// never has to synthesize a fake error just to signal "done".
type rowSource func() (values []interface{}, ok bool)

// execConn returns the connection a plan hook should run against: tx's
// pinned connection when a transaction is supplied, else a pool-borrowed
// one the caller must release.
func (e *Engine) execConn(ctx context.Context, a *Attachment, tx *txn.Transaction) (c *conn.Conn, release func(), err error) {
	if tx != nil {
		c, err = tx.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
	c, err = a.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { a.Pool.Release(c) }, nil
}

// InsertRows drains rows into schema.table through a batched INSERT plan,
// executing each flushed statement as it's produced. Returning is passed
// straight to dml.InsertOptions to drive OUTPUT INSERTED.col generation;
// the OUTPUT rows are read and discarded, and the return value is just
// the total row count inserted.
func (e *Engine) InsertRows(ctx context.Context, name, schema, table string, columns []dml.ColumnSpec, opts dml.InsertOptions, next rowSource, tx *txn.Transaction) (int64, error) {
	a, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	c, release, err := e.execConn(ctx, a, tx)
	if err != nil {
		return 0, err
	}
	defer release()

	b := dml.NewInsertBuilder(schema, table, columns, opts)
	var total int64
	for {
		values, ok := next()
		if !ok {
			break
		}
		stmt, flushed, err := b.AddRow(values)
		if err != nil {
			return total, err
		}
		if flushed {
			n, err := e.runStatement(ctx, c, stmt)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	if stmt, ok := b.Flush(); ok {
		n, err := e.runStatement(ctx, c, stmt)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// UpdateRows applies (rowid, new-values) pairs to schema.table through a
// batched VALUES-JOIN UPDATE plan.
func (e *Engine) UpdateRows(ctx context.Context, name, schema, table string, pkColumns, setColumns []dml.ColumnSpec, opts dml.UpdateOptions, next func() (id dml.RowID, values []interface{}, ok bool), tx *txn.Transaction) (int64, error) {
	a, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	c, release, err := e.execConn(ctx, a, tx)
	if err != nil {
		return 0, err
	}
	defer release()

	b := dml.NewUpdateBuilder(schema, table, pkColumns, setColumns, opts)
	var total int64
	for {
		id, values, ok := next()
		if !ok {
			break
		}
		stmt, flushed, err := b.AddRow(id, values)
		if err != nil {
			return total, err
		}
		if flushed {
			n, err := e.runStatement(ctx, c, stmt)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	if stmt, ok := b.Flush(); ok {
		n, err := e.runStatement(ctx, c, stmt)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeleteRows removes rows identified by rowid from schema.table through a
// batched VALUES-JOIN DELETE plan.
func (e *Engine) DeleteRows(ctx context.Context, name, schema, table string, pkColumns []dml.ColumnSpec, opts dml.UpdateOptions, next func() (id dml.RowID, ok bool), tx *txn.Transaction) (int64, error) {
	a, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	c, release, err := e.execConn(ctx, a, tx)
	if err != nil {
		return 0, err
	}
	defer release()

	b := dml.NewDeleteBuilder(schema, table, pkColumns, opts)
	var total int64
	for {
		id, ok := next()
		if !ok {
			break
		}
		stmt, flushed, err := b.AddRow(id)
		if err != nil {
			return total, err
		}
		if flushed {
			n, err := e.runStatement(ctx, c, stmt)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	if stmt, ok := b.Flush(); ok {
		n, err := e.runStatement(ctx, c, stmt)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CreateTableAsSelect runs the two-phase CTAS plan: an optional DROP TABLE
// IF EXISTS for OR REPLACE, then CREATE TABLE. When opts.DropOnFailure is
// set and CREATE fails, a best-effort DROP is issued to avoid leaving a
// half-created table behind; that cleanup's own result is discarded and
// the original failure is returned.
func (e *Engine) CreateTableAsSelect(ctx context.Context, name, schema, table string, columns []dml.PlannerColumn, opts dml.CTASOptions, tx *txn.Transaction) error {
	a, err := e.Get(name)
	if err != nil {
		return err
	}
	c, release, err := e.execConn(ctx, a, tx)
	if err != nil {
		return err
	}
	defer release()

	stmt := dml.BuildCTAS(schema, table, columns, opts)
	if stmt.Drop != "" {
		if _, err := e.runStatement(ctx, c, stmt.Drop); err != nil {
			return err
		}
	}
	if _, err := e.runStatement(ctx, c, stmt.Create); err != nil {
		if opts.DropOnFailure {
			e.runStatement(ctx, c, dml.BestEffortDrop(schema, table))
		}
		return err
	}
	return nil
}

// runStatement executes one SQL statement on c and returns its rows-
// affected count.
func (e *Engine) runStatement(ctx context.Context, c *conn.Conn, sql string) (int64, error) {
	tr, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		return 0, err
	}
	return drainRowCount(c, tr)
}
