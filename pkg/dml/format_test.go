package dml

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEscapeIdent(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Orders", "[Orders]"},
		{"Weird]Name", "[Weird]]Name]"},
		{"", "[]"},
	}
	for _, tt := range tests {
		if got := EscapeIdent(tt.name); got != tt.want {
			t.Errorf("EscapeIdent(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestQualifiedName(t *testing.T) {
	got := QualifiedName("dbo", "Orders")
	want := "[dbo].[Orders]"
	if got != want {
		t.Errorf("QualifiedName = %q, want %q", got, want)
	}
}

func TestFormatLiteral_Nil(t *testing.T) {
	got, err := FormatLiteral(nil, "nvarchar(50)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "NULL" {
		t.Errorf("got %q, want NULL", got)
	}
}

func TestFormatLiteral_String(t *testing.T) {
	tests := []struct {
		sqlType string
		value   string
		want    string
	}{
		{"nvarchar(50)", "O'Brien", "N'O''Brien'"},
		{"varchar(50)", "O'Brien", "'O''Brien'"},
		{"NVARCHAR(MAX)", "hi", "N'hi'"},
		{"uniqueidentifier", "abc", "N'abc'"},
	}
	for _, tt := range tests {
		got, err := FormatLiteral(tt.value, tt.sqlType)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("FormatLiteral(%q, %q) = %q, want %q", tt.value, tt.sqlType, got, tt.want)
		}
	}
}

func TestFormatLiteral_Numeric(t *testing.T) {
	if got, _ := FormatLiteral(42, ""); got != "42" {
		t.Errorf("int literal = %q, want 42", got)
	}
	if got, _ := FormatLiteral(int64(-7), ""); got != "-7" {
		t.Errorf("int64 literal = %q, want -7", got)
	}
	if got, _ := FormatLiteral(true, ""); got != "1" {
		t.Errorf("bool literal = %q, want 1", got)
	}
	if got, _ := FormatLiteral(false, ""); got != "0" {
		t.Errorf("bool literal = %q, want 0", got)
	}
	if got, err := FormatLiteral(3.5, ""); err != nil || got != "3.5" {
		t.Errorf("float literal = %q, %v, want 3.5", got, err)
	}
	if _, err := FormatLiteral(math.NaN(), ""); err == nil {
		t.Error("expected error for NaN literal")
	}
}

func TestFormatLiteral_Decimal(t *testing.T) {
	d := decimal.RequireFromString("123.4500")
	got, err := FormatLiteral(d, "decimal(10,4)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != d.String() {
		t.Errorf("got %q, want %q", got, d.String())
	}
}

func TestFormatLiteral_Binary(t *testing.T) {
	got, err := FormatLiteral([]byte{0xDE, 0xAD, 0xBE, 0xEF}, "varbinary(max)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xDEADBEEF" {
		t.Errorf("got %q, want 0xDEADBEEF", got)
	}
}

func TestFormatLiteral_Timestamp(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)
	got, err := FormatLiteral(ts, "datetime2(7)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "CONVERT(datetime2(7), '2024-06-15T14:30:00.0000000', 127)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatLiteral_UnsupportedType(t *testing.T) {
	_, err := FormatLiteral(struct{}{}, "")
	if err == nil {
		t.Error("expected error for unsupported type")
	}
}

