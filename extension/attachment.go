// Package extension is the host-engine boundary: ATTACH/DETACH of named
// mssql contexts, the scan/exec/catalog/pool_stats/refresh_cache/
// azure_auth_test functions, DML plan execution, and transaction hooks.
// Everything below this package is host-engine-agnostic; this is the only
// layer that knows about attach names, option strings, and handles.
package extension

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ha1tch/mssqlext/pkg/auth"
	"github.com/ha1tch/mssqlext/pkg/bulk"
	"github.com/ha1tch/mssqlext/pkg/conn"
	"github.com/ha1tch/mssqlext/pkg/config"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/log"
	"github.com/ha1tch/mssqlext/pkg/metadata"
	"github.com/ha1tch/mssqlext/pkg/pool"
)

// Attachment is the live state behind one ATTACH'd name: its resolved
// config, connection pool, metadata cache, and the regex filters applied
// to catalog browsing.
type Attachment struct {
	Name   string
	Config config.Config

	host     string
	port     int
	database string
	user     string
	password string
	strategy auth.Strategy

	Pool  *pool.Pool
	Cache *metadata.Cache

	schemaFilter *regexp.Regexp
	tableFilter  *regexp.Regexp

	txMu sync.Mutex
	txns map[string]*transactionHandle
}

// Engine owns every live Attachment, keyed by its ATTACH name.
type Engine struct {
	pools *pool.Manager

	mu    sync.RWMutex
	attch map[string]*Attachment

	handleMu sync.Mutex
	handles  map[int64]*conn.Conn
	nextH    int64
}

// NewEngine returns an empty Engine ready to accept ATTACH calls.
func NewEngine() *Engine {
	return &Engine{
		pools:   pool.NewManager(),
		attch:   make(map[string]*Attachment),
		handles: make(map[int64]*conn.Conn),
	}
}

// connString is the set of recognized ATTACH key/value options, parsed
// out of the raw option map ATTACH's grammar allows.
type connString struct {
	host                  string
	port                  int
	database              string
	user                  string
	password              string
	useEncrypt            bool
	trustServerCert       bool
	azureSecret           string
	accessToken           string
	azureTenantID         string
	schemaFilter          string
	tableFilter           string
	catalogEnabled        bool
}

func parseConnString(opts map[string]string) (connString, error) {
	cs := connString{port: 1433, useEncrypt: true, catalogEnabled: true}
	for k, v := range opts {
		switch k {
		case "host":
			cs.host = v
		case "port":
			p, err := strconv.Atoi(v)
			if err != nil {
				return cs, tdserrors.NewProtocolError("invalid port %q", v)
			}
			cs.port = p
		case "database":
			cs.database = v
		case "user":
			cs.user = v
		case "password":
			cs.password = v
		case "use_encrypt":
			cs.useEncrypt = v == "true" || v == "1" || v == "yes"
		case "trust_server_certificate":
			cs.trustServerCert = v == "true" || v == "1" || v == "yes"
		case "azure_secret":
			cs.azureSecret = v
		case "access_token":
			cs.accessToken = v
		case "azure_tenant_id":
			cs.azureTenantID = v
		case "schema_filter":
			cs.schemaFilter = v
		case "table_filter":
			cs.tableFilter = v
		case "catalog":
			cs.catalogEnabled = v == "true" || v == "1" || v == "yes"
		}
	}
	if cs.host == "" {
		return cs, tdserrors.NewProtocolError("ATTACH requires a host option")
	}
	return cs, nil
}

// Attach parses the given ATTACH options, builds a pool + metadata cache
// for the target server, and registers the result under name. Re-attaching
// an already-attached name is an error; DETACH it first.
func (e *Engine) Attach(ctx context.Context, name string, opts map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.attch[name]; exists {
		return tdserrors.NewProtocolError("%q is already attached", name)
	}

	cs, err := parseConnString(opts)
	if err != nil {
		return err
	}
	cfg := config.FromOptions(opts)
	cfg.Encrypt = cs.useEncrypt
	cfg.TrustServerCert = cs.trustServerCert

	authOpts := auth.Options{
		Mode:        cfg.AuthMode,
		TenantID:    cs.azureTenantID,
		ClientID:    cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AccessToken: cs.accessToken,
	}
	if authOpts.TenantID == "" {
		authOpts.TenantID = cfg.TenantID
	}
	if cs.accessToken != "" {
		authOpts.Mode = "access_token"
	}
	strategy, err := auth.New(authOpts)
	if err != nil {
		return err
	}

	a := &Attachment{
		Name:     name,
		Config:   cfg,
		host:     cs.host,
		port:     cs.port,
		database: cs.database,
		user:     cs.user,
		password: cs.password,
		strategy: strategy,
		txns:     make(map[string]*transactionHandle),
	}
	if cs.schemaFilter != "" {
		re, err := regexp.Compile("(?i)" + cs.schemaFilter)
		if err != nil {
			return tdserrors.NewProtocolError("invalid schema_filter: %v", err)
		}
		a.schemaFilter = re
	}
	if cs.tableFilter != "" {
		re, err := regexp.Compile("(?i)" + cs.tableFilter)
		if err != nil {
			return tdserrors.NewProtocolError("invalid table_filter: %v", err)
		}
		a.tableFilter = re
	}

	dialer := func(dialCtx context.Context) (*conn.Conn, error) {
		var cred conn.TokenCredential
		if strategy != nil {
			cred = strategy
		}
		return conn.Dial(dialCtx, a.host, a.port, a.database, a.user, a.password, cred, a.Config)
	}
	a.Pool = e.pools.GetOrCreate(name, cfg, dialer)

	if cs.catalogEnabled {
		a.Cache = metadata.New(poolBorrower{a.Pool}, cfg.SchemaCacheTTL)
	}

	log.Default().System().Info("attached", "name", name, "host", cs.host, "port", cs.port)
	e.attch[name] = a
	return nil
}

// Detach closes name's pool and drops its registration.
func (e *Engine) Detach(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.attch[name]; !ok {
		return tdserrors.NewProtocolError("%q is not attached", name)
	}
	e.pools.Remove(name)
	delete(e.attch, name)
	log.Default().System().Info("detached", "name", name)
	return nil
}

// Get returns the named Attachment, or an error if it isn't attached.
func (e *Engine) Get(name string) (*Attachment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.attch[name]
	if !ok {
		return nil, tdserrors.NewProtocolError("%q is not attached", name)
	}
	return a, nil
}

// poolBorrower adapts *pool.Pool to metadata.Borrower, which wants
// Acquire/Release rather than Pin/Unpin-aware acquisition since catalog
// reads never run inside a pinned transaction.
type poolBorrower struct {
	p *pool.Pool
}

func (b poolBorrower) Acquire(ctx context.Context) (*conn.Conn, error) {
	return b.p.Acquire(ctx)
}
func (b poolBorrower) Release(c *conn.Conn) {
	b.p.Release(c)
}

// IsFabricHost reports whether host matches one of cfg's configured
// Fabric/Synapse dedicated-pool suffixes or one of pkg/bulk's built-in
// Fabric endpoint patterns, used to pick the bulk-load Fabric fallback
// path at plan time.
func IsFabricHost(host string, cfg config.Config) bool {
	h := strings.ToLower(host)
	for _, suffix := range cfg.BulkFabricHostSuffixes {
		if strings.HasSuffix(h, strings.ToLower(suffix)) {
			return true
		}
	}
	return bulk.IsFabricEndpoint(host)
}

