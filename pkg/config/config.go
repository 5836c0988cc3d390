// Package config holds process-wide tunables for mssqlext: pool sizing,
// timeouts, batching caps, and metadata cache TTLs. Values are layered
// built-in defaults -> process-wide override -> per-attach override, the
// last one set wins.
package config

import "time"

// Config holds every tunable the engine reads at runtime. Fields are plain
// and exported so the extension boundary can build one directly from
// ATTACH option key/value pairs.
type Config struct {
	// Connection
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	PacketSize     int
	Encrypt        bool
	TrustServerCert bool

	// Pool
	PoolMinSize      int
	PoolMaxSize      int
	PoolAcquireTimeout time.Duration
	PoolIdleTimeout    time.Duration
	PoolValidationInterval time.Duration
	PoolCleanupInterval    time.Duration

	// Authentication
	AuthMode     string // "sql", "service_principal", "azure_cli", "env", "device_code"
	TenantID     string
	ClientID     string
	ClientSecret string

	// Metadata cache
	SchemaCacheTTL time.Duration
	TableCacheTTL  time.Duration
	ColumnCacheTTL time.Duration

	// DML batching
	MaxBatchRows      int
	MaxBatchBytes     int
	MaxBatchParams    int

	// Bulk load
	BulkFlushRows           int
	BulkFallbackToInsert    bool
	BulkFabricHostSuffixes  []string
}

// Default returns the engine's built-in tunables.
func Default() Config {
	return Config{
		ConnectTimeout:  15 * time.Second,
		QueryTimeout:    0, // 0 = no timeout
		PacketSize:      4096,
		Encrypt:         true,
		TrustServerCert: false,

		PoolMinSize:            0,
		PoolMaxSize:            10,
		PoolAcquireTimeout:     30 * time.Second,
		PoolIdleTimeout:        10 * time.Minute,
		PoolValidationInterval: 60 * time.Second,
		PoolCleanupInterval:    30 * time.Second,

		AuthMode: "sql",

		SchemaCacheTTL: 10 * time.Minute,
		TableCacheTTL:  10 * time.Minute,
		ColumnCacheTTL: 10 * time.Minute,

		MaxBatchRows:   1000,
		MaxBatchBytes:  4 << 20,
		MaxBatchParams: 2100, // SQL Server's own parameter ceiling

		BulkFlushRows:          100000,
		BulkFallbackToInsert:   false,
		BulkFabricHostSuffixes: []string{".database.fabric.microsoft.com"},
	}
}

// Override applies non-zero fields of o onto a copy of c and returns the
// result. Used to layer a process-wide override onto the built-in defaults,
// and again to layer a per-attach override onto that.
func (c Config) Override(o Config) Config {
	r := c
	if o.ConnectTimeout != 0 {
		r.ConnectTimeout = o.ConnectTimeout
	}
	if o.QueryTimeout != 0 {
		r.QueryTimeout = o.QueryTimeout
	}
	if o.PacketSize != 0 {
		r.PacketSize = o.PacketSize
	}
	r.Encrypt = o.Encrypt || r.Encrypt
	r.TrustServerCert = o.TrustServerCert || r.TrustServerCert
	if o.PoolMinSize != 0 {
		r.PoolMinSize = o.PoolMinSize
	}
	if o.PoolMaxSize != 0 {
		r.PoolMaxSize = o.PoolMaxSize
	}
	if o.PoolAcquireTimeout != 0 {
		r.PoolAcquireTimeout = o.PoolAcquireTimeout
	}
	if o.PoolIdleTimeout != 0 {
		r.PoolIdleTimeout = o.PoolIdleTimeout
	}
	if o.PoolValidationInterval != 0 {
		r.PoolValidationInterval = o.PoolValidationInterval
	}
	if o.PoolCleanupInterval != 0 {
		r.PoolCleanupInterval = o.PoolCleanupInterval
	}
	if o.AuthMode != "" {
		r.AuthMode = o.AuthMode
	}
	if o.TenantID != "" {
		r.TenantID = o.TenantID
	}
	if o.ClientID != "" {
		r.ClientID = o.ClientID
	}
	if o.ClientSecret != "" {
		r.ClientSecret = o.ClientSecret
	}
	if o.SchemaCacheTTL != 0 {
		r.SchemaCacheTTL = o.SchemaCacheTTL
	}
	if o.TableCacheTTL != 0 {
		r.TableCacheTTL = o.TableCacheTTL
	}
	if o.ColumnCacheTTL != 0 {
		r.ColumnCacheTTL = o.ColumnCacheTTL
	}
	if o.MaxBatchRows != 0 {
		r.MaxBatchRows = o.MaxBatchRows
	}
	if o.MaxBatchBytes != 0 {
		r.MaxBatchBytes = o.MaxBatchBytes
	}
	if o.MaxBatchParams != 0 {
		r.MaxBatchParams = o.MaxBatchParams
	}
	if o.BulkFlushRows != 0 {
		r.BulkFlushRows = o.BulkFlushRows
	}
	r.BulkFallbackToInsert = o.BulkFallbackToInsert || r.BulkFallbackToInsert
	if len(o.BulkFabricHostSuffixes) > 0 {
		r.BulkFabricHostSuffixes = o.BulkFabricHostSuffixes
	}
	return r
}

// FromOptions builds a Config by overriding Default() with key/value pairs
// as supplied at ATTACH time. Unknown keys are ignored; the
// caller is expected to have already validated option names against the
// documented set.
func FromOptions(opts map[string]string) Config {
	base := Default()
	o := Config{}
	for k, v := range opts {
		switch k {
		case "connect_timeout":
			if d, err := time.ParseDuration(v); err == nil {
				o.ConnectTimeout = d
			}
		case "query_timeout":
			if d, err := time.ParseDuration(v); err == nil {
				o.QueryTimeout = d
			}
		case "encrypt":
			o.Encrypt = v == "true" || v == "1" || v == "yes"
		case "trust_server_certificate":
			o.TrustServerCert = v == "true" || v == "1" || v == "yes"
		case "pool_min_size":
			o.PoolMinSize = atoiOrZero(v)
		case "pool_max_size":
			o.PoolMaxSize = atoiOrZero(v)
		case "pool_acquire_timeout":
			if d, err := time.ParseDuration(v); err == nil {
				o.PoolAcquireTimeout = d
			}
		case "auth_mode":
			o.AuthMode = v
		case "tenant_id":
			o.TenantID = v
		case "client_id":
			o.ClientID = v
		case "client_secret":
			o.ClientSecret = v
		case "bulk_flush_rows":
			o.BulkFlushRows = atoiOrZero(v)
		case "bulk_fallback_to_insert":
			o.BulkFallbackToInsert = v == "true" || v == "1" || v == "yes"
		}
	}
	return base.Override(o)
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
