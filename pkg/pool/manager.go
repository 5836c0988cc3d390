package pool

import (
	"sync"

	"github.com/ha1tch/mssqlext/pkg/config"
)

// Manager is a registry of pools keyed by attached-database name. ATTACH
// creates an entry; DETACH drains and removes it.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// GetOrCreate returns the existing pool for name, or creates one with cfg
// and dial. Uses a read-lock fast path and a write-lock double-check so
// concurrent ATTACHes of the same name don't race two pools into existence.
func (m *Manager) GetOrCreate(name string, cfg config.Config, dial Dialer) *Pool {
	m.mu.RLock()
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	p := New(cfg, dial)
	m.pools[name] = p
	return p
}

// Get returns the pool for name, if attached.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Remove closes and removes the pool for name, for DETACH.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	p, ok := m.pools[name]
	if ok {
		delete(m.pools, name)
	}
	m.mu.Unlock()

	if ok {
		p.Close()
	}
}

// AllStats snapshots every managed pool, keyed by attached-database name.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	pools := make([]*Pool, 0, len(m.pools))
	for name, p := range m.pools {
		names = append(names, name)
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	out := make(map[string]Stats, len(names))
	for i, name := range names {
		out[name] = pools[i].Stats()
	}
	return out
}

// Close drains and closes every managed pool.
func (m *Manager) Close() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
