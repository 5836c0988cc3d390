package extension

import (
	"context"
	"testing"
)

func attachedEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	e := NewEngine()
	if err := e.Attach(context.Background(), "primary", map[string]string{
		"host": "h", "user": "sa", "password": "x", "database": "d",
	}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return e, "primary"
}

func TestBeginTxn_RejectsDuplicateCtxName(t *testing.T) {
	e, name := attachedEngine(t)

	if err := e.BeginTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	if err := e.BeginTxn(context.Background(), name, "tx1"); err == nil {
		t.Error("expected a second BeginTxn with the same ctxName to fail")
	}
}

func TestBeginTxn_UnknownAttachment(t *testing.T) {
	e := NewEngine()
	if err := e.BeginTxn(context.Background(), "nope", "tx1"); err == nil {
		t.Error("expected an error beginning a transaction on an unattached name")
	}
}

func TestTransaction_ReturnsRegisteredHandle(t *testing.T) {
	e, name := attachedEngine(t)
	if err := e.BeginTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}

	tx, err := e.Transaction(name, "tx1")
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected a non-nil transaction handle")
	}
}

func TestTransaction_UnknownCtxNameReturnsNilNoError(t *testing.T) {
	e, name := attachedEngine(t)
	tx, err := e.Transaction(name, "never-begun")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx != nil {
		t.Error("expected a nil transaction for an unregistered ctxName")
	}
}

func TestCommitTxn_NeverPinnedIsNoOpSuccess(t *testing.T) {
	e, name := attachedEngine(t)
	if err := e.BeginTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}

	// No DML/catalog call happened inside BEGIN...COMMIT, so the
	// transaction was never pinned; commit should be a pure bookkeeping
	// no-op rather than attempting a wire round trip.
	if err := e.CommitTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("CommitTxn: %v", err)
	}
}

func TestCommitTxn_UnknownCtxNameErrors(t *testing.T) {
	e, name := attachedEngine(t)
	if err := e.CommitTxn(context.Background(), name, "never-begun"); err == nil {
		t.Error("expected an error committing an unregistered transaction")
	}
}

func TestRollbackTxn_ForgetsTransactionEvenOnNoOp(t *testing.T) {
	e, name := attachedEngine(t)
	if err := e.BeginTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	if err := e.RollbackTxn(context.Background(), name, "tx1"); err != nil {
		t.Fatalf("RollbackTxn: %v", err)
	}

	// The transaction should no longer be registered.
	tx, err := e.Transaction(name, "tx1")
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if tx != nil {
		t.Error("expected the transaction to be forgotten after RollbackTxn")
	}

	// Committing/rolling back again must fail, not silently no-op.
	if err := e.CommitTxn(context.Background(), name, "tx1"); err == nil {
		t.Error("expected CommitTxn to fail on an already-ended transaction")
	}
}
