// Package txn implements the host-context transaction object: connection
// pinning against a pool.Pool, descriptor capture from the BEGIN/COMMIT/
// ROLLBACK ENVCHANGE tokens, and the pin/unpin lifecycle a single
// explicit transaction drives on its bound connection.
package txn

import (
	"context"
	"sync"

	"github.com/ha1tch/mssqlext/pkg/conn"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/pool"
)

// State is the lifecycle of a Transaction.
type State int

const (
	// StateInactive means no BEGIN has been issued yet; the first DML or
	// catalog read on this context will pin a connection and begin.
	StateInactive State = iota
	StateActive
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is the per-host-context transaction object: a pinned
// connection, its 8-byte descriptor, and the active flag. There is no
// pending-DML queue here — DML builders (pkg/dml) already batch their own
// statements; the transaction only owns which connection those batches
// execute against.
type Transaction struct {
	mu    sync.Mutex
	pool  *pool.Pool
	conn  *conn.Conn
	state State
}

// New returns an inactive Transaction bound to p. No connection is
// acquired until Begin.
func New(p *pool.Pool) *Transaction {
	return &Transaction{pool: p, state: StateInactive}
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Descriptor returns the 8-byte transaction descriptor captured from the
// BEGIN ENVCHANGE, or nil if the transaction isn't active.
func (t *Transaction) Descriptor() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.TxDescriptor()
}

// Begin acquires a connection from the pool, pins it, issues BEGIN
// TRANSACTION, and captures the descriptor ENVCHANGE carries back. Begin
// is a no-op if the transaction is already active, so later reads/writes
// on the same context just reuse the pinned connection.
func (t *Transaction) Begin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateActive {
		return nil
	}
	if t.state != StateInactive {
		return tdserrors.NewProtocolError("transaction already %s", t.state)
	}

	c, err := t.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	t.pool.Pin(c)

	tr, err := c.ExecuteBatch(ctx, "BEGIN TRANSACTION")
	if err != nil {
		t.pool.Unpin(c)
		t.pool.Release(c)
		return err
	}
	if err := c.DrainToIdle(tr); err != nil {
		t.pool.Unpin(c)
		t.pool.Release(c)
		return err
	}
	if len(c.TxDescriptor()) == 0 {
		t.pool.Unpin(c)
		t.pool.Release(c)
		return tdserrors.NewProtocolError("BEGIN TRANSACTION returned no transaction descriptor")
	}

	t.conn = c
	t.state = StateActive
	return nil
}

// Conn returns the pinned connection for a statement to execute against,
// beginning the transaction first if it is not yet active.
func (t *Transaction) Conn(ctx context.Context) (*conn.Conn, error) {
	if t.State() != StateActive {
		if err := t.Begin(ctx); err != nil {
			return nil, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, nil
}

// Commit issues COMMIT TRANSACTION, unpins and releases the connection.
// The release always leaves the connection's pending-reset
// flag set regardless of outcome, so the pool's next acquirer gets a
// RESET_CONNECTION rather than leftover session state.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.end(ctx, "COMMIT TRANSACTION", StateCommitted)
}

// Rollback issues ROLLBACK TRANSACTION, unpins and releases the
// connection.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.end(ctx, "ROLLBACK TRANSACTION", StateRolledBack)
}

func (t *Transaction) end(ctx context.Context, sql string, final State) error {
	t.mu.Lock()
	c := t.conn
	state := t.state
	t.mu.Unlock()

	if state != StateActive {
		return tdserrors.NewProtocolError("cannot end transaction in state %s", state)
	}

	tr, execErr := c.ExecuteBatch(ctx, sql)
	var drainErr error
	if execErr == nil {
		drainErr = c.DrainToIdle(tr)
	}

	c.MarkPendingReset()
	t.pool.Unpin(c)
	t.pool.Release(c)

	t.mu.Lock()
	t.conn = nil
	t.state = final
	t.mu.Unlock()

	if execErr != nil {
		return execErr
	}
	return drainErr
}
