package extension

import (
	"context"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/txn"
)

// transactionHandle is the registered *txn.Transaction behind one
// host-engine transaction context name.
type transactionHandle struct {
	tx *txn.Transaction
}

// BeginTxn registers a new, not-yet-pinned transaction under ctxName on
// name. The pool connection is acquired and pinned lazily, on the first
// DML or catalog read that calls txn.Transaction.Conn — not here.
func (e *Engine) BeginTxn(ctx context.Context, name, ctxName string) error {
	a, err := e.Get(name)
	if err != nil {
		return err
	}
	a.txMu.Lock()
	defer a.txMu.Unlock()
	if _, exists := a.txns[ctxName]; exists {
		return tdserrors.NewProtocolError("transaction %q is already open on %q", ctxName, name)
	}
	a.txns[ctxName] = &transactionHandle{tx: txn.New(a.Pool)}
	return nil
}

// Transaction returns the pkg/txn.Transaction registered under ctxName,
// for DML/catalog calls to pass through as their pinning source.
func (e *Engine) Transaction(name, ctxName string) (*txn.Transaction, error) {
	a, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	a.txMu.Lock()
	defer a.txMu.Unlock()
	h, ok := a.txns[ctxName]
	if !ok {
		return nil, nil
	}
	return h.tx, nil
}

// CommitTxn commits ctxName's transaction and forgets it.
func (e *Engine) CommitTxn(ctx context.Context, name, ctxName string) error {
	return e.endTxn(ctx, name, ctxName, true)
}

// RollbackTxn rolls back ctxName's transaction and forgets it.
func (e *Engine) RollbackTxn(ctx context.Context, name, ctxName string) error {
	return e.endTxn(ctx, name, ctxName, false)
}

func (e *Engine) endTxn(ctx context.Context, name, ctxName string, commit bool) error {
	a, err := e.Get(name)
	if err != nil {
		return err
	}
	a.txMu.Lock()
	h, ok := a.txns[ctxName]
	delete(a.txns, ctxName)
	a.txMu.Unlock()
	if !ok {
		return tdserrors.NewProtocolError("no open transaction %q on %q", ctxName, name)
	}

	if h.tx.State() != txn.StateActive {
		// Never pinned (no DML/catalog read happened inside BEGIN...COMMIT):
		// nothing to commit or roll back on the wire.
		return nil
	}
	if commit {
		return h.tx.Commit(ctx)
	}
	return h.tx.Rollback(ctx)
}
