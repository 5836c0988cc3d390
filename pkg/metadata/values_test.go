package metadata

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"hello", "hello"},
		{[]byte("bytes"), "bytes"},
		{42, ""},
	}
	for _, tt := range tests {
		if got := asString(tt.in); got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   int64
		wantOK bool
	}{
		{nil, 0, false},
		{uint8(7), 7, true},
		{int16(-5), -5, true},
		{int32(100), 100, true},
		{int64(9999), 9999, true},
		{decimal.RequireFromString("42.9"), 42, true},
		{"not a number", 0, false},
	}
	for _, tt := range tests {
		got, ok := asInt64(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("asInt64(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dbo", "'dbo'"},
		{"O'Brien", "'O''Brien'"},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := quoteLiteral(tt.in); got != tt.want {
			t.Errorf("quoteLiteral(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
