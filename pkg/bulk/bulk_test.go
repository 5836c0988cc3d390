package bulk

import (
	"testing"

	"github.com/ha1tch/mssqlext/pkg/tds"
)

func TestIsFabricEndpoint(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"mypool.datawarehouse.fabric.microsoft.com", true},
		{"MyPool.DataWarehouse.Fabric.Microsoft.Com", true},
		{"myworkspace.pbidedicated.windows.net", true},
		{"myserver.database.windows.net", false},
		{"localhost", false},
		{"10.0.0.5", false},
	}
	for _, tt := range tests {
		if got := IsFabricEndpoint(tt.host); got != tt.want {
			t.Errorf("IsFabricEndpoint(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestNew_FabricFailFast(t *testing.T) {
	_, err := New(nil, "dbo", "T", nil, Options{IsFabric: true, Fallback: FailFast})
	if err == nil {
		t.Fatal("expected an error for a Fabric endpoint under FailFast")
	}
}

func TestNew_FabricFallbackToInsert(t *testing.T) {
	w, err := New(nil, "dbo", "T", nil, Options{IsFabric: true, Fallback: FallbackToInsert})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatal("expected a nil Writer to signal the INSERT fallback path")
	}
}

func TestNew_DefaultFlushRows(t *testing.T) {
	w, err := New(nil, "dbo", "T", nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.opts.FlushRows != DefaultFlushRows {
		t.Errorf("FlushRows = %d, want %d", w.opts.FlushRows, DefaultFlushRows)
	}
}

func TestInsertBulkStatement(t *testing.T) {
	w := &Writer{
		schema: "dbo",
		table:  "Orders",
		columns: []tds.Column{
			{Name: "ID", Type: tds.TypeIntN, Length: 4},
			{Name: "Name", Type: tds.TypeNVarChar, Length: 100},
		},
	}
	got := w.insertBulkStatement()
	want := "INSERT BULK [dbo].[Orders] ([ID] INTN,[Name] NVARCHAR(50))"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBulkColumnDDL(t *testing.T) {
	tests := []struct {
		name string
		col  tds.Column
		want string
	}{
		{"nvarchar-fixed", tds.Column{Type: tds.TypeNVarChar, Length: 100}, "NVARCHAR(50)"},
		{"nvarchar-max", tds.Column{Type: tds.TypeNVarChar, Length: 0xFFFF}, "NVARCHAR(MAX)"},
		{"varchar-fixed", tds.Column{Type: tds.TypeBigVarChar, Length: 50}, "VARCHAR(50)"},
		{"varbinary-fixed", tds.Column{Type: tds.TypeBigVarBin, Length: 16}, "VARBINARY(16)"},
		{"varbinary-max", tds.Column{Type: tds.TypeBigVarBin, Length: 0xFFFF}, "VARBINARY(MAX)"},
		{"decimal", tds.Column{Type: tds.TypeDecimalN, Precision: 18, Scale: 4}, "DECIMAL(18,4)"},
		{"datetime2", tds.Column{Type: tds.TypeDateTime2N, Scale: 7}, "DATETIME2(7)"},
		{"plain-int", tds.Column{Type: tds.TypeIntN}, "INTN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bulkColumnDDL(tt.col); got != tt.want {
				t.Errorf("bulkColumnDDL(%+v) = %q, want %q", tt.col, got, tt.want)
			}
		})
	}
}
