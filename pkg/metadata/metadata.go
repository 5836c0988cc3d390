// Package metadata implements the incremental catalog cache: three
// independent levels (schema names, table names per schema, column lists
// per table), each with its own load state and TTL, populated lazily via
// double-checked locking and invalidated pointwise after DDL.
package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ha1tch/mssqlext/pkg/conn"
)

// loadState is the per-node lifecycle: NotLoaded -> Loading -> Loaded.
// Readers take the fast path on an atomic load of this field alone; only
// the slow (Loading) path touches the node's mutex.
type loadState int32

const (
	notLoaded loadState = iota
	loading
	loaded
)

// ColumnInfo describes one column as reported by INFORMATION_SCHEMA.COLUMNS.
type ColumnInfo struct {
	Name      string
	DataType  string
	Nullable  bool
	MaxLength int64 // -1 for (max)/unbounded
	Precision int
	Scale     int
}

// Borrower acquires a connection for the duration of a discovery query.
// Implemented by *pool.Pool; a transaction with a pinned connection can
// adapt it trivially (Acquire returns the pinned connection, Release is a
// no-op).
type Borrower interface {
	Acquire(ctx context.Context) (*conn.Conn, error)
	Release(c *conn.Conn)
}

type schemaSnapshot struct {
	names     []string
	refreshed time.Time
}

type tableSnapshot struct {
	names     []string
	refreshed time.Time
}

type columnSnapshot struct {
	columns   []ColumnInfo
	refreshed time.Time
}

// tableNode is one schema's lazily-loaded table-name list plus its
// per-table column nodes.
type tableNode struct {
	state    atomic.Int32
	mu       sync.Mutex
	snapshot atomic.Pointer[tableSnapshot]

	columnsMu sync.Mutex
	columns   map[string]*columnNode
}

// columnNode is one table's lazily-loaded column list.
type columnNode struct {
	state    atomic.Int32
	mu       sync.Mutex
	snapshot atomic.Pointer[columnSnapshot]
}

// Cache is the three-level lazy catalog cache for one attached database.
// Hierarchy: root mutex guards the schema map only; each schema's mutex
// guards its table map; each table's mutex guards its column node. A
// higher-level mutex is never held while acquiring a lower one.
type Cache struct {
	ttl time.Duration
	db  Borrower

	state    atomic.Int32
	mu       sync.Mutex
	snapshot atomic.Pointer[schemaSnapshot]

	schemasMu sync.Mutex
	schemas   map[string]*tableNode
}

// New returns an empty cache. ttl <= 0 means entries never expire.
func New(db Borrower, ttl time.Duration) *Cache {
	return &Cache{db: db, ttl: ttl, schemas: make(map[string]*tableNode)}
}

func (c *Cache) expired(refreshed time.Time) bool {
	return c.ttl > 0 && time.Since(refreshed) > c.ttl
}

// GetSchemaNames returns all schema names, loading them on first access.
func (c *Cache) GetSchemaNames(ctx context.Context) ([]string, error) {
	if names, ok := c.trySchemaFastPath(); ok {
		return names, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if names, ok := c.trySchemaFastPath(); ok {
		return names, nil
	}

	c.state.Store(int32(loading))
	names, err := c.loadSchemaNames(ctx)
	if err != nil {
		c.state.Store(int32(notLoaded))
		return nil, err
	}
	c.snapshot.Store(&schemaSnapshot{names: names, refreshed: time.Now()})
	c.state.Store(int32(loaded))
	return names, nil
}

func (c *Cache) trySchemaFastPath() ([]string, bool) {
	if loadState(c.state.Load()) != loaded {
		return nil, false
	}
	snap := c.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	if c.expired(snap.refreshed) {
		c.state.CompareAndSwap(int32(loaded), int32(notLoaded))
		return nil, false
	}
	return snap.names, true
}

func (c *Cache) loadSchemaNames(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, "SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA ORDER BY SCHEMA_NAME")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, asString(r[0]))
	}
	return names, nil
}

// nodeFor returns (creating if absent) the tableNode for schema s.
func (c *Cache) nodeFor(s string) *tableNode {
	c.schemasMu.Lock()
	defer c.schemasMu.Unlock()
	n, ok := c.schemas[s]
	if !ok {
		n = &tableNode{columns: make(map[string]*columnNode)}
		c.schemas[s] = n
	}
	return n
}

// GetTableNames returns the table names in schema s, loading them on
// first access to that schema.
func (c *Cache) GetTableNames(ctx context.Context, schema string) ([]string, error) {
	n := c.nodeFor(schema)

	if names, ok := n.fastPath(c.ttl); ok {
		return names, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if names, ok := n.fastPath(c.ttl); ok {
		return names, nil
	}

	n.state.Store(int32(loading))
	names, err := c.loadTableNames(ctx, schema)
	if err != nil {
		n.state.Store(int32(notLoaded))
		return nil, err
	}
	n.snapshot.Store(&tableSnapshot{names: names, refreshed: time.Now()})
	n.state.Store(int32(loaded))
	return names, nil
}

func (n *tableNode) fastPath(ttl time.Duration) ([]string, bool) {
	if loadState(n.state.Load()) != loaded {
		return nil, false
	}
	snap := n.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	if ttl > 0 && time.Since(snap.refreshed) > ttl {
		n.state.CompareAndSwap(int32(loaded), int32(notLoaded))
		return nil, false
	}
	return snap.names, true
}

func (c *Cache) loadTableNames(ctx context.Context, schema string) ([]string, error) {
	rows, err := c.query(ctx,
		"SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = "+quoteLiteral(schema)+" ORDER BY TABLE_NAME")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, asString(r[0]))
	}
	return names, nil
}

// columnNodeFor returns (creating if absent) the columnNode for schema.table.
func (c *Cache) columnNodeFor(schema, table string) *columnNode {
	n := c.nodeFor(schema)
	n.columnsMu.Lock()
	defer n.columnsMu.Unlock()
	cn, ok := n.columns[table]
	if !ok {
		cn = &columnNode{}
		n.columns[table] = cn
	}
	return cn
}

// GetColumns returns the columns of schema.table, loading them on first
// access to that table.
func (c *Cache) GetColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	cn := c.columnNodeFor(schema, table)

	if cols, ok := cn.fastPath(c.ttl); ok {
		return cols, nil
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cols, ok := cn.fastPath(c.ttl); ok {
		return cols, nil
	}

	cn.state.Store(int32(loading))
	cols, err := c.loadColumns(ctx, schema, table)
	if err != nil {
		cn.state.Store(int32(notLoaded))
		return nil, err
	}
	cn.snapshot.Store(&columnSnapshot{columns: cols, refreshed: time.Now()})
	cn.state.Store(int32(loaded))
	return cols, nil
}

func (cn *columnNode) fastPath(ttl time.Duration) ([]ColumnInfo, bool) {
	if loadState(cn.state.Load()) != loaded {
		return nil, false
	}
	snap := cn.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	if ttl > 0 && time.Since(snap.refreshed) > ttl {
		cn.state.CompareAndSwap(int32(loaded), int32(notLoaded))
		return nil, false
	}
	return snap.columns, true
}

func (c *Cache) loadColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	sql := "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH, " +
		"NUMERIC_PRECISION, NUMERIC_SCALE, DATETIME_PRECISION FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = " + quoteLiteral(schema) + " AND TABLE_NAME = " + quoteLiteral(table) +
		" ORDER BY ORDINAL_POSITION"
	rows, err := c.query(ctx, sql)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, r := range rows {
		maxLen := int64(-1)
		if n, ok := asInt64(r[3]); ok {
			maxLen = n
		}
		prec, _ := asInt64(r[4])
		if prec == 0 {
			if n, ok := asInt64(r[6]); ok {
				prec = n
			}
		}
		scale, _ := asInt64(r[5])
		cols = append(cols, ColumnInfo{
			Name:      asString(r[0]),
			DataType:  asString(r[1]),
			Nullable:  asString(r[2]) == "YES",
			MaxLength: maxLen,
			Precision: int(prec),
			Scale:     int(scale),
		})
	}
	return cols, nil
}

// query borrows a connection, runs sql, and returns it.
func (c *Cache) query(ctx context.Context, sql string) ([]rowValues, error) {
	cn, err := c.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.db.Release(cn)

	_, rows, err := cn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	out := make([]rowValues, len(rows))
	for i, r := range rows {
		out[i] = rowValues(r)
	}
	return out, nil
}

type rowValues []interface{}

// InvalidateAll drops the schema list and every schema's table and column
// nodes. Used after CREATE/DROP SCHEMA.
func (c *Cache) InvalidateAll() {
	c.state.Store(int32(notLoaded))
	c.snapshot.Store(nil)
	c.schemasMu.Lock()
	c.schemas = make(map[string]*tableNode)
	c.schemasMu.Unlock()
}

// InvalidateSchema drops schema s's table list and all of its tables'
// column lists. Used after CREATE/DROP TABLE.
func (c *Cache) InvalidateSchema(schema string) {
	c.schemasMu.Lock()
	delete(c.schemas, schema)
	c.schemasMu.Unlock()
}

// InvalidateTable drops just schema.table's column list. Used after
// ALTER TABLE.
func (c *Cache) InvalidateTable(schema, table string) {
	c.schemasMu.Lock()
	n, ok := c.schemas[schema]
	c.schemasMu.Unlock()
	if !ok {
		return
	}
	n.columnsMu.Lock()
	delete(n.columns, table)
	n.columnsMu.Unlock()
}
