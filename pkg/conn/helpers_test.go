package conn

import (
	"testing"
	"unicode/utf16"
)

func TestStringToUTF16LE(t *testing.T) {
	got := stringToUTF16LE("Hi")
	want := []byte{'H', 0, 'i', 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestStringToUTF16LE_Empty(t *testing.T) {
	if got := stringToUTF16LE(""); len(got) != 0 {
		t.Errorf("expected empty output, got %v", got)
	}
}

func TestStringToUTF16LE_NonASCII(t *testing.T) {
	s := "café"
	got := stringToUTF16LE(s)
	want := utf16.Encode([]rune(s))
	if len(got) != len(want)*2 {
		t.Fatalf("len = %d, want %d", len(got), len(want)*2)
	}
}

func TestPutUint32LE(t *testing.T) {
	buf := make([]byte, 4)
	putUint32LE(buf, 0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, buf[i], want[i])
		}
	}
}

func TestParseRoutingTarget(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"server.database.windows.net:1433", "server.database.windows.net", 1433, false},
		{"10.0.0.5:14330", "10.0.0.5", 14330, false},
		{"no-port-here", "", 0, true},
		{"host:notaport", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := parseRoutingTarget(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRoutingTarget(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseRoutingTarget(%q): unexpected error: %v", tt.in, err)
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("parseRoutingTarget(%q) = (%q, %d), want (%q, %d)", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestHostnameOrDefault(t *testing.T) {
	if h := hostnameOrDefault(); h == "" {
		t.Error("expected a non-empty hostname")
	}
}
