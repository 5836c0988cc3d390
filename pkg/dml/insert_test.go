package dml

import "testing"

func TestInsertBuilder_SingleFlush(t *testing.T) {
	cols := []ColumnSpec{{Name: "ID", SQLType: "int"}, {Name: "Name", SQLType: "nvarchar(50)"}}
	b := NewInsertBuilder("dbo", "Orders", cols, InsertOptions{})

	stmt, flushed, err := b.AddRow([]interface{}{1, "Alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushed {
		t.Fatal("did not expect a flush after one row with default thresholds")
	}
	if stmt != "" {
		t.Fatalf("statement should be empty before flush, got %q", stmt)
	}

	stmt, ok := b.Flush()
	if !ok {
		t.Fatal("expected pending row to flush")
	}
	want := "INSERT INTO [dbo].[Orders] ([ID],[Name]) VALUES (1,N'Alice')"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}

	if _, ok := b.Flush(); ok {
		t.Error("second flush with nothing pending should report ok=false")
	}
}

func TestInsertBuilder_RowCountThreshold(t *testing.T) {
	cols := []ColumnSpec{{Name: "ID", SQLType: "int"}}
	b := NewInsertBuilder("dbo", "T", cols, InsertOptions{MaxRows: 2})

	if _, flushed, _ := b.AddRow([]interface{}{1}); flushed {
		t.Fatal("should not flush after first row of two")
	}
	stmt, flushed, err := b.AddRow([]interface{}{2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flushed {
		t.Fatal("expected flush at MaxRows threshold")
	}
	want := "INSERT INTO [dbo].[T] ([ID]) VALUES (1),(2)"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}
}

func TestInsertBuilder_Returning(t *testing.T) {
	cols := []ColumnSpec{{Name: "ID", SQLType: "int"}}
	b := NewInsertBuilder("dbo", "T", cols, InsertOptions{Returning: []string{"ID"}})
	b.AddRow([]interface{}{1})
	stmt, _ := b.Flush()
	want := "INSERT INTO [dbo].[T] ([ID]) OUTPUT INSERTED.[ID] VALUES (1)"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}
}

func TestUpdateBuilder_Basic(t *testing.T) {
	pk := []ColumnSpec{{Name: "ID", SQLType: "int"}}
	set := []ColumnSpec{{Name: "Name", SQLType: "nvarchar(50)"}}
	b := NewUpdateBuilder("dbo", "T", pk, set, UpdateOptions{})

	stmt, flushed, err := b.AddRow(RowID{1}, []interface{}{"Bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushed {
		t.Fatal("should not flush before threshold")
	}
	if stmt != "" {
		t.Fatalf("unexpected statement before flush: %q", stmt)
	}

	stmt, ok := b.Flush()
	if !ok {
		t.Fatal("expected pending row to flush")
	}
	want := "UPDATE t SET t.[Name] = src.[new_Name] FROM [dbo].[T] AS t JOIN (VALUES (1,N'Bob')) AS src([ID],[new_Name]) ON t.[ID] = src.[ID]"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}
}

func TestUpdateBuilder_RowIDArityMismatch(t *testing.T) {
	pk := []ColumnSpec{{Name: "ID", SQLType: "int"}, {Name: "Region", SQLType: "int"}}
	set := []ColumnSpec{{Name: "Name", SQLType: "nvarchar(50)"}}
	b := NewUpdateBuilder("dbo", "T", pk, set, UpdateOptions{})

	if _, _, err := b.AddRow(RowID{1}, []interface{}{"Bob"}); err == nil {
		t.Error("expected error for rowid arity mismatch")
	}
	if _, _, err := b.AddRow(RowID{1, 2}, []interface{}{"Bob", "extra"}); err == nil {
		t.Error("expected error for set-values arity mismatch")
	}
}

func TestDeleteBuilder_Basic(t *testing.T) {
	pk := []ColumnSpec{{Name: "ID", SQLType: "int"}}
	b := NewDeleteBuilder("dbo", "T", pk, UpdateOptions{})

	b.AddRow(RowID{1})
	stmt, ok := b.Flush()
	if !ok {
		t.Fatal("expected pending row to flush")
	}
	want := "DELETE t FROM [dbo].[T] AS t JOIN (VALUES (1)) AS src([ID]) ON t.[ID] = src.[ID]"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}
}

func TestDeleteBuilder_ParamThreshold(t *testing.T) {
	pk := []ColumnSpec{{Name: "ID", SQLType: "int"}, {Name: "Region", SQLType: "int"}}
	b := NewDeleteBuilder("dbo", "T", pk, UpdateOptions{MaxParams: 4})

	if _, flushed, _ := b.AddRow(RowID{1, 10}); flushed {
		t.Fatal("should not flush after 2 of 4 params")
	}
	_, flushed, err := b.AddRow(RowID{2, 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flushed {
		t.Fatal("expected flush once param count reaches MaxParams")
	}
}

func TestDeleteBuilder_ArityMismatch(t *testing.T) {
	pk := []ColumnSpec{{Name: "ID", SQLType: "int"}}
	b := NewDeleteBuilder("dbo", "T", pk, UpdateOptions{})
	if _, _, err := b.AddRow(RowID{1, 2}); err == nil {
		t.Error("expected error for rowid arity mismatch")
	}
}
