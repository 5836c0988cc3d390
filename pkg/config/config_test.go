package config

import (
	"reflect"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	d := Default()
	if d.PoolMaxSize != 10 {
		t.Errorf("PoolMaxSize = %d, want 10", d.PoolMaxSize)
	}
	if d.AuthMode != "sql" {
		t.Errorf("AuthMode = %q, want sql", d.AuthMode)
	}
	if d.MaxBatchParams != 2100 {
		t.Errorf("MaxBatchParams = %d, want 2100", d.MaxBatchParams)
	}
}

func TestOverride_ZeroFieldsLeaveBaseUntouched(t *testing.T) {
	base := Default()
	got := base.Override(Config{})
	if !reflect.DeepEqual(got, base) {
		t.Errorf("Override(Config{}) changed the base config:\n got  %+v\n want %+v", got, base)
	}
}

func TestOverride_NonZeroFieldsWin(t *testing.T) {
	base := Default()
	got := base.Override(Config{PoolMaxSize: 50, AuthMode: "service_principal"})
	if got.PoolMaxSize != 50 {
		t.Errorf("PoolMaxSize = %d, want 50", got.PoolMaxSize)
	}
	if got.AuthMode != "service_principal" {
		t.Errorf("AuthMode = %q, want service_principal", got.AuthMode)
	}
	// Untouched fields keep the base's value.
	if got.SchemaCacheTTL != base.SchemaCacheTTL {
		t.Errorf("SchemaCacheTTL = %v, want unchanged %v", got.SchemaCacheTTL, base.SchemaCacheTTL)
	}
}

func TestOverride_BoolFieldsAreSticky(t *testing.T) {
	base := Default()
	base.Encrypt = true

	got := base.Override(Config{Encrypt: false})
	if !got.Encrypt {
		t.Error("a false override bool should not clear an already-true base value (no zero-value signal for bools)")
	}
}

func TestFromOptions_Defaults(t *testing.T) {
	got := FromOptions(map[string]string{})
	if !reflect.DeepEqual(got, Default()) {
		t.Error("FromOptions({}) should equal Default()")
	}
}

func TestFromOptions_AppliesKnownKeys(t *testing.T) {
	got := FromOptions(map[string]string{
		"pool_max_size":       "25",
		"auth_mode":           "azure_cli",
		"connect_timeout":     "5s",
		"bulk_flush_rows":     "50000",
		"trust_server_certificate": "true",
	})
	if got.PoolMaxSize != 25 {
		t.Errorf("PoolMaxSize = %d, want 25", got.PoolMaxSize)
	}
	if got.AuthMode != "azure_cli" {
		t.Errorf("AuthMode = %q, want azure_cli", got.AuthMode)
	}
	if got.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", got.ConnectTimeout)
	}
	if got.BulkFlushRows != 50000 {
		t.Errorf("BulkFlushRows = %d, want 50000", got.BulkFlushRows)
	}
	if !got.TrustServerCert {
		t.Error("expected TrustServerCert = true")
	}
}

func TestFromOptions_IgnoresUnknownKeys(t *testing.T) {
	got := FromOptions(map[string]string{"made_up_option": "whatever"})
	if !reflect.DeepEqual(got, Default()) {
		t.Error("an unrecognized option key should be silently ignored")
	}
}

func TestFromOptions_MalformedDurationFallsBackToDefault(t *testing.T) {
	got := FromOptions(map[string]string{"connect_timeout": "not-a-duration"})
	if got.ConnectTimeout != Default().ConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want the default when parsing fails", got.ConnectTimeout)
	}
}

func TestAtoiOrZero(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"123", 123},
		{"0", 0},
		{"", 0},
		{"12x", 0},
		{"-5", 0},
	}
	for _, tt := range tests {
		if got := atoiOrZero(tt.in); got != tt.want {
			t.Errorf("atoiOrZero(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
