package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ha1tch/mssqlext/pkg/conn"
)

// erroringBorrower never yields a connection, enough to drive the
// cache-miss path without a real *conn.Conn.
type erroringBorrower struct{ err error }

func (b erroringBorrower) Acquire(ctx context.Context) (*conn.Conn, error) { return nil, b.err }
func (b erroringBorrower) Release(c *conn.Conn)                           {}

func TestCache_GetSchemaNames_PropagatesAcquireError(t *testing.T) {
	wantErr := errors.New("dial refused")
	c := New(erroringBorrower{err: wantErr}, time.Minute)

	_, err := c.GetSchemaNames(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetSchemaNames() error = %v, want %v", err, wantErr)
	}
	if loadState(c.state.Load()) != notLoaded {
		t.Error("state should fall back to notLoaded after a failed load")
	}
}

func TestCache_SchemaFastPath_HitWithinTTL(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)
	c.snapshot.Store(&schemaSnapshot{names: []string{"dbo", "sales"}, refreshed: time.Now()})
	c.state.Store(int32(loaded))

	names, err := c.GetSchemaNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "dbo" || names[1] != "sales" {
		t.Errorf("names = %v, want [dbo sales]", names)
	}
}

func TestCache_SchemaFastPath_MissWhenExpired(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Millisecond)
	c.snapshot.Store(&schemaSnapshot{names: []string{"dbo"}, refreshed: time.Now().Add(-time.Hour)})
	c.state.Store(int32(loaded))

	if _, ok := c.trySchemaFastPath(); ok {
		t.Error("expected the fast path to miss on an expired snapshot")
	}
	if loadState(c.state.Load()) != notLoaded {
		t.Error("expired snapshot should reset state to notLoaded")
	}
}

func TestCache_SchemaFastPath_NeverExpiresWhenTTLZero(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, 0)
	c.snapshot.Store(&schemaSnapshot{names: []string{"dbo"}, refreshed: time.Now().Add(-365 * 24 * time.Hour)})
	c.state.Store(int32(loaded))

	if _, ok := c.trySchemaFastPath(); !ok {
		t.Error("expected a TTL of 0 to mean the snapshot never expires")
	}
}

func TestCache_GetTableNames_PerSchemaIsolation(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)

	dbo := c.nodeFor("dbo")
	dbo.snapshot.Store(&tableSnapshot{names: []string{"Orders"}, refreshed: time.Now()})
	dbo.state.Store(int32(loaded))

	names, err := c.GetTableNames(context.Background(), "dbo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 1 || names[0] != "Orders" {
		t.Errorf("names = %v, want [Orders]", names)
	}

	// A different, never-seeded schema still misses and surfaces the
	// borrower's error rather than reusing dbo's cached entry.
	if _, err := c.GetTableNames(context.Background(), "sales"); err == nil {
		t.Error("expected an error for an unseeded schema")
	}
}

func TestCache_GetColumns_FastPath(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)

	cn := c.columnNodeFor("dbo", "Orders")
	cols := []ColumnInfo{{Name: "ID", DataType: "int", Nullable: false}}
	cn.snapshot.Store(&columnSnapshot{columns: cols, refreshed: time.Now()})
	cn.state.Store(int32(loaded))

	got, err := c.GetColumns(context.Background(), "dbo", "Orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ID" {
		t.Errorf("columns = %+v, want [{ID int false ...}]", got)
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)
	c.snapshot.Store(&schemaSnapshot{names: []string{"dbo"}, refreshed: time.Now()})
	c.state.Store(int32(loaded))
	c.nodeFor("dbo")

	c.InvalidateAll()

	if loadState(c.state.Load()) != notLoaded {
		t.Error("expected state reset to notLoaded")
	}
	if c.snapshot.Load() != nil {
		t.Error("expected the schema snapshot to be cleared")
	}
	if len(c.schemas) != 0 {
		t.Error("expected the schema map to be emptied")
	}
}

func TestCache_InvalidateSchema(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)
	c.nodeFor("dbo")
	c.nodeFor("sales")

	c.InvalidateSchema("dbo")

	if _, ok := c.schemas["dbo"]; ok {
		t.Error("expected dbo's node to be dropped")
	}
	if _, ok := c.schemas["sales"]; !ok {
		t.Error("expected sales' node to survive")
	}
}

func TestCache_InvalidateTable(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)
	c.columnNodeFor("dbo", "Orders")
	c.columnNodeFor("dbo", "Customers")

	c.InvalidateTable("dbo", "Orders")

	n := c.nodeFor("dbo")
	if _, ok := n.columns["Orders"]; ok {
		t.Error("expected Orders' column node to be dropped")
	}
	if _, ok := n.columns["Customers"]; !ok {
		t.Error("expected Customers' column node to survive")
	}
}

func TestCache_InvalidateTable_UnknownSchemaIsNoOp(t *testing.T) {
	c := New(erroringBorrower{err: errors.New("unused")}, time.Hour)
	c.InvalidateTable("nonexistent", "whatever")
}
