package pool

import (
	"sync"

	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
)

// Manager is a named registry of pools for multi-database deployments.
// Pools are normally added once at startup; the lock keeps concurrent
// registration safe regardless.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*AdvancedPool

	log logger.Logger
	m   *metrics.Metrics
}

// NewManager creates an empty pool registry
func NewManager(log logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		pools: make(map[string]*AdvancedPool),
		log:   log,
		m:     m,
	}
}

// AddPool builds a pool for the given DSN and registers it under name
func (mgr *Manager) AddPool(name, dsn string, cfg Config) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if _, ok := mgr.pools[name]; ok {
		return ErrPoolAlreadyRegistered
	}

	p, err := New(name, dsn, cfg, mgr.log, mgr.m)
	if err != nil {
		return err
	}

	mgr.pools[name] = p
	mgr.log.Info("pool registered", "pool", name)
	return nil
}

// Register adds a pre-built pool, e.g. one constructed with NewWithDB
func (mgr *Manager) Register(p *AdvancedPool) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if _, ok := mgr.pools[p.Name()]; ok {
		return ErrPoolAlreadyRegistered
	}
	mgr.pools[p.Name()] = p
	return nil
}

// GetPool looks up a registered pool by name
func (mgr *Manager) GetPool(name string) (*AdvancedPool, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	p, ok := mgr.pools[name]
	return p, ok
}

// AllMetrics returns current metrics for every registered pool
func (mgr *Manager) AllMetrics() map[string]Metrics {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	out := make(map[string]Metrics, len(mgr.pools))
	for name, p := range mgr.pools {
		out[name] = p.Metrics()
	}
	return out
}

// HealthStatus maps every registered pool to its IsHealthy result
func (mgr *Manager) HealthStatus() map[string]bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	out := make(map[string]bool, len(mgr.pools))
	for name, p := range mgr.pools {
		out[name] = p.IsHealthy()
	}
	return out
}

// CloseAll closes every registered pool, returning the first error
func (mgr *Manager) CloseAll() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	var first error
	for name, p := range mgr.pools {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(mgr.pools, name)
	}
	return first
}
