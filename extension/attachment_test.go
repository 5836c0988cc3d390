package extension

import (
	"context"
	"testing"

	"github.com/ha1tch/mssqlext/pkg/config"
)

func TestParseConnString_Defaults(t *testing.T) {
	cs, err := parseConnString(map[string]string{"host": "db.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.port != 1433 {
		t.Errorf("port = %d, want 1433", cs.port)
	}
	if !cs.useEncrypt {
		t.Error("expected use_encrypt to default to true")
	}
	if !cs.catalogEnabled {
		t.Error("expected catalog to default to enabled")
	}
}

func TestParseConnString_MissingHost(t *testing.T) {
	if _, err := parseConnString(map[string]string{}); err == nil {
		t.Error("expected an error when host is missing")
	}
}

func TestParseConnString_InvalidPort(t *testing.T) {
	if _, err := parseConnString(map[string]string{"host": "h", "port": "not-a-number"}); err == nil {
		t.Error("expected an error for a non-numeric port")
	}
}

func TestParseConnString_AllKnownKeys(t *testing.T) {
	cs, err := parseConnString(map[string]string{
		"host":                      "h",
		"port":                      "1434",
		"database":                  "mydb",
		"user":                      "sa",
		"password":                  "secret",
		"use_encrypt":               "0",
		"trust_server_certificate":  "yes",
		"azure_secret":              "id:secret",
		"access_token":              "tok",
		"azure_tenant_id":           "tenant",
		"schema_filter":             "^sa",
		"table_filter":              "^t",
		"catalog":                   "false",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.host != "h" || cs.port != 1434 || cs.database != "mydb" || cs.user != "sa" || cs.password != "secret" {
		t.Errorf("basic fields not parsed correctly: %+v", cs)
	}
	if cs.useEncrypt {
		t.Error("expected use_encrypt=0 to parse as false")
	}
	if !cs.trustServerCert {
		t.Error("expected trust_server_certificate=yes to parse as true")
	}
	if cs.azureSecret != "id:secret" || cs.accessToken != "tok" || cs.azureTenantID != "tenant" {
		t.Errorf("azure fields not parsed correctly: %+v", cs)
	}
	if cs.schemaFilter != "^sa" || cs.tableFilter != "^t" {
		t.Errorf("filter fields not parsed correctly: %+v", cs)
	}
	if cs.catalogEnabled {
		t.Error("expected catalog=false to disable the catalog cache")
	}
}

func TestIsFabricHost_ConfiguredSuffix(t *testing.T) {
	cfg := config.Default()
	cfg.BulkFabricHostSuffixes = []string{".myfabric.example.com"}

	if !IsFabricHost("pool1.MyFabric.Example.Com", cfg) {
		t.Error("expected a case-insensitive suffix match against the configured list")
	}
	if IsFabricHost("pool1.other.example.com", cfg) {
		t.Error("expected no match for an unrelated host")
	}
}

func TestIsFabricHost_FallsBackToBulkPackageDetection(t *testing.T) {
	cfg := config.Default()
	cfg.BulkFabricHostSuffixes = nil

	if !IsFabricHost("mypool.datawarehouse.fabric.microsoft.com", cfg) {
		t.Error("expected the built-in Fabric suffix list to still apply")
	}
}

func TestEngine_AttachDetach_Lifecycle(t *testing.T) {
	e := NewEngine()

	if _, err := e.Get("primary"); err == nil {
		t.Error("expected an error getting an unattached name")
	}

	if err := e.Attach(context.Background(), "primary", map[string]string{"host": "h", "user": "sa", "password": "x", "database": "d"}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := e.Attach(context.Background(), "primary", map[string]string{"host": "h"}); err == nil {
		t.Error("expected re-attaching an already-attached name to fail")
	}

	if _, err := e.Get("primary"); err != nil {
		t.Errorf("expected the attachment to be retrievable: %v", err)
	}

	if err := e.Detach("primary"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := e.Detach("primary"); err == nil {
		t.Error("expected detaching an already-detached name to fail")
	}
}

func TestEngine_Attach_InvalidSchemaFilter(t *testing.T) {
	e := NewEngine()
	err := e.Attach(context.Background(), "primary", map[string]string{
		"host": "h", "user": "sa", "password": "x", "database": "d",
		"schema_filter": "(unbalanced",
	})
	if err == nil {
		t.Error("expected an invalid schema_filter regex to fail Attach")
	}
}
