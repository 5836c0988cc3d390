package dml

import "testing"

func TestBuildCTAS_Basic(t *testing.T) {
	cols := []PlannerColumn{
		{Name: "ID", Type: PlannerInt},
		{Name: "Name", Type: PlannerString, Nullable: true},
	}
	stmt := BuildCTAS("dbo", "Report", cols, CTASOptions{})

	if stmt.Drop != "" {
		t.Errorf("did not expect a DROP without OrReplace, got %q", stmt.Drop)
	}
	want := "CREATE TABLE [dbo].[Report] ([ID] bigint NOT NULL, [Name] nvarchar(max) NULL)"
	if stmt.Create != want {
		t.Errorf("got %q, want %q", stmt.Create, want)
	}
}

func TestBuildCTAS_OrReplace(t *testing.T) {
	cols := []PlannerColumn{{Name: "ID", Type: PlannerInt}}
	stmt := BuildCTAS("dbo", "Report", cols, CTASOptions{OrReplace: true})

	want := "DROP TABLE IF EXISTS [dbo].[Report]"
	if stmt.Drop != want {
		t.Errorf("got %q, want %q", stmt.Drop, want)
	}
}

func TestBuildCTAS_TypeMapping(t *testing.T) {
	tests := []struct {
		t    PlannerType
		want string
	}{
		{PlannerBool, "bit"},
		{PlannerInt, "bigint"},
		{PlannerFloat, "float"},
		{PlannerString, "nvarchar(max)"},
		{PlannerDecimal, "decimal(38,38)"},
		{PlannerTimestamp, "datetime2(7)"},
		{PlannerBinary, "varbinary(max)"},
		{PlannerUUID, "uniqueidentifier"},
	}
	for _, tt := range tests {
		cols := []PlannerColumn{{Name: "C", Type: tt.t}}
		stmt := BuildCTAS("dbo", "T", cols, CTASOptions{})
		if got := sqlTypeFor(tt.t); got != tt.want {
			t.Errorf("sqlTypeFor(%v) = %q, want %q", tt.t, got, tt.want)
		}
		_ = stmt
	}
}

func TestBestEffortDrop(t *testing.T) {
	got := BestEffortDrop("dbo", "Temp")
	want := "DROP TABLE IF EXISTS [dbo].[Temp]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
