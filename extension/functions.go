package extension

import (
	"context"
	"io"
	"regexp"

	"github.com/ha1tch/mssqlext/pkg/auth"
	"github.com/ha1tch/mssqlext/pkg/conn"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/metadata"
	"github.com/ha1tch/mssqlext/pkg/pool"
	"github.com/ha1tch/mssqlext/pkg/result"
	"github.com/ha1tch/mssqlext/pkg/tds"
)

// ScanResult wraps a *result.Result with the pool release its connection
// needs once the caller is done pulling chunks, since pkg/result only
// knows how to mark the connection Idle, not how to hand it back to a
// particular pool.
type ScanResult struct {
	*result.Result
	pool     *pool.Pool
	conn     *conn.Conn
	released bool
}

// NextChunk delegates to the wrapped Result, releasing the connection
// back to the pool once the result set is exhausted.
func (s *ScanResult) NextChunk(ctx context.Context) (*result.Chunk, error) {
	chunk, err := s.Result.NextChunk(ctx)
	if err == io.EOF {
		s.release()
	}
	return chunk, err
}

// Close abandons the result set and releases the connection.
func (s *ScanResult) Close() error {
	err := s.Result.Close()
	s.release()
	return err
}

func (s *ScanResult) release() {
	if !s.released {
		s.released = true
		s.pool.Release(s.conn)
	}
}

// Scan runs sql against name's pool and returns a streaming Result the
// caller pulls chunks from with Result.NextChunk. The connection is
// acquired from the pool (never pinned) and released back to it once the
// result has been fully drained or abandoned via Result.Close.
func (e *Engine) Scan(ctx context.Context, name, sql string) (*ScanResult, error) {
	a, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	c, err := a.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tr, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		a.Pool.Release(c)
		return nil, err
	}
	res, err := result.Scan(c, tr)
	if err != nil {
		a.Pool.Release(c)
		return nil, err
	}
	return &ScanResult{Result: res, pool: a.Pool, conn: c}, nil
}

// Exec runs sql against name's pool for its side effects and returns the
// rows-affected count from the last DONE token that carries a row count.
func (e *Engine) Exec(ctx context.Context, name, sql string) (int64, error) {
	a, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	c, err := a.Pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer a.Pool.Release(c)

	tr, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		return 0, err
	}
	return drainRowCount(c, tr)
}

// drainRowCount consumes tr to completion, applying ENVCHANGEs and
// surfacing the first ERROR, and returns the row count carried by the
// last DONE that has DoneCount set.
func drainRowCount(c *conn.Conn, tr *tds.TokenReader) (int64, error) {
	var firstErr error
	var rows int64
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		switch tok {
		case tds.TokenEnvChange:
			c.ApplyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			se := v.(*tdserrors.ServerError)
			if firstErr == nil {
				firstErr = se
			}
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			if d.HasCount() {
				rows = int64(d.RowCount)
			}
			if !d.More() {
				c.MarkIdle()
			}
		}
	}
	if firstErr != nil {
		return rows, firstErr
	}
	return rows, nil
}

// PoolStats returns name's connection pool statistics.
func (e *Engine) PoolStats(name string) (pool.Stats, error) {
	a, err := e.Get(name)
	if err != nil {
		return pool.Stats{}, err
	}
	return a.Pool.Stats(), nil
}

// AllPoolStats returns pool statistics for every attached context, keyed
// by attach name, for the context-less pool_stats() overload.
func (e *Engine) AllPoolStats() map[string]pool.Stats {
	e.mu.RLock()
	names := make([]string, 0, len(e.attch))
	for n := range e.attch {
		names = append(names, n)
	}
	e.mu.RUnlock()

	out := make(map[string]pool.Stats, len(names))
	for _, n := range names {
		if a, err := e.Get(n); err == nil {
			out[n] = a.Pool.Stats()
		}
	}
	return out
}

// RefreshCache drops every cached catalog entry for name, forcing the
// next catalog read to hit the server again.
func (e *Engine) RefreshCache(name string) error {
	a, err := e.Get(name)
	if err != nil {
		return err
	}
	if a.Cache == nil {
		return tdserrors.NewProtocolError("%q was attached with catalog disabled", name)
	}
	a.Cache.InvalidateAll()
	return nil
}

// AzureAuthTest exercises the service-principal Azure AD auth mode against secret
// (and optional tenant override) and returns a short human-readable
// summary, without opening a database connection. It is the
// `azure_auth_test(secret[, tenant])` diagnostic function.
func AzureAuthTest(ctx context.Context, secret, tenant string) (string, error) {
	clientID, clientSecret := splitSecret(secret)
	strategy, err := auth.New(auth.Options{
		Mode:         "service_principal",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TenantID:     tenant,
	})
	if err != nil {
		return "", err
	}
	if strategy == nil {
		return "no federated credential configured", nil
	}
	token, expiresAt, err := strategy.Token(ctx)
	if err != nil {
		return "", err
	}
	if len(token) > 12 {
		token = token[:12] + "..."
	}
	return "ok: " + strategy.Name() + " token=" + token + " expires=" + expiresAt.Format("2006-01-02T15:04:05Z07:00"), nil
}

// Open dials a standalone connection against name's resolved endpoint,
// outside the pool, and returns an opaque handle. Used by the host
// engine's open/close/ping trio for direct connection probing.
func (e *Engine) Open(ctx context.Context, name string) (int64, error) {
	a, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	var cred conn.TokenCredential
	if a.strategy != nil {
		cred = a.strategy
	}
	c, err := conn.Dial(ctx, a.host, a.port, a.database, a.user, a.password, cred, a.Config)
	if err != nil {
		return 0, err
	}

	e.handleMu.Lock()
	e.nextH++
	h := e.nextH
	e.handles[h] = c
	e.handleMu.Unlock()
	return h, nil
}

// Close closes and forgets the connection behind handle.
func (e *Engine) Close(handle int64) error {
	e.handleMu.Lock()
	c, ok := e.handles[handle]
	delete(e.handles, handle)
	e.handleMu.Unlock()
	if !ok {
		return tdserrors.NewProtocolError("unknown handle %d", handle)
	}
	return c.Close()
}

// Ping sends a SELECT 1 batch on handle's connection and reports whether it
// completed without error.
func (e *Engine) Ping(ctx context.Context, handle int64) (bool, error) {
	e.handleMu.Lock()
	c, ok := e.handles[handle]
	e.handleMu.Unlock()
	if !ok {
		return false, tdserrors.NewProtocolError("unknown handle %d", handle)
	}
	if err := c.Ping(ctx); err != nil {
		return false, nil
	}
	return true, nil
}

// Schemas returns name's schema names, filtered by its ATTACH-time
// schema_filter if one was configured.
func (e *Engine) Schemas(ctx context.Context, name string) ([]string, error) {
	a, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Cache == nil {
		return nil, tdserrors.NewProtocolError("%q was attached with catalog disabled", name)
	}
	names, err := a.Cache.GetSchemaNames(ctx)
	if err != nil {
		return nil, err
	}
	return filterNames(names, a.schemaFilter), nil
}

// Tables returns schema's table names within name, filtered by
// table_filter if configured.
func (e *Engine) Tables(ctx context.Context, name, schema string) ([]string, error) {
	a, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Cache == nil {
		return nil, tdserrors.NewProtocolError("%q was attached with catalog disabled", name)
	}
	names, err := a.Cache.GetTableNames(ctx, schema)
	if err != nil {
		return nil, err
	}
	return filterNames(names, a.tableFilter), nil
}

// Columns returns schema.table's column metadata within name.
func (e *Engine) Columns(ctx context.Context, name, schema, table string) ([]metadata.ColumnInfo, error) {
	a, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Cache == nil {
		return nil, tdserrors.NewProtocolError("%q was attached with catalog disabled", name)
	}
	return a.Cache.GetColumns(ctx, schema, table)
}

// splitSecret splits a "clientID:clientSecret" azure_auth_test secret
// argument; a secret with no colon is treated as a bare client secret
// with no client ID (azidentity then reports the credential error).
func splitSecret(secret string) (clientID, clientSecret string) {
	for i := 0; i < len(secret); i++ {
		if secret[i] == ':' {
			return secret[:i], secret[i+1:]
		}
	}
	return "", secret
}

func filterNames(names []string, re *regexp.Regexp) []string {
	if re == nil {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if re.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}
