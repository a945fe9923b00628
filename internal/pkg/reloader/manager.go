// Package reloader runs the background work of a catalog instance: periodic
// catalog reloads, counter flushes and reacting to reloads announced by
// other instances.
package reloader

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/invalidation"
)

const (
	defaultReloadInterval = 5 * time.Minute
	defaultFlushInterval  = 5 * time.Second
)

// TenantLister returns the tenants known to persistence.
type TenantLister interface {
	Tenants(ctx context.Context) ([]string, error)
}

// Flusher drains buffered counters.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// Config holds the intervals of the background workers.
type Config struct {
	ReloadInterval time.Duration
	FlushInterval  time.Duration
}

// Manager manages the background workers
type Manager struct {
	store   *catalog.Store
	tenants TenantLister
	counter Flusher
	bus     *invalidation.Bus
	cfg     Config

	reloadTicker       *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	cancelListen       context.CancelFunc
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

// NewManager creates a manager. tenants, counter and bus are optional.
func NewManager(cfg Config, store *catalog.Store, tenants TenantLister, counter Flusher, bus *invalidation.Bus) *Manager {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = defaultReloadInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Manager{
		store:   store,
		tenants: tenants,
		counter: counter,
		bus:     bus,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start starts the background workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Reloader] Starting background tasks")

	m.reloadTicker = time.NewTicker(m.cfg.ReloadInterval)
	m.wg.Add(1)
	go m.reloadWorker(m.stopCh)

	if m.counter != nil {
		m.counterFlushTicker = time.NewTicker(m.cfg.FlushInterval)
		m.wg.Add(1)
		go m.counterFlushWorker(m.stopCh)
	}

	if m.bus != nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancelListen = cancel
		m.wg.Add(1)
		go m.listenWorker(ctx)
	}

	log.Info("[Reloader] Started successfully")
}

// Stop stops the background workers and flushes the counters one last time
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Reloader] Stopping background tasks...")

	if m.reloadTicker != nil {
		m.reloadTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	if m.cancelListen != nil {
		m.cancelListen()
		m.cancelListen = nil
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	if m.counter != nil {
		if err := m.flushCountersOnce(); err != nil {
			log.Errorf("[Reloader] Final counter flush error: %v", err)
		}
	}

	log.Info("[Reloader] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ReloadTenant reloads one tenant and announces it to other instances
func (m *Manager) ReloadTenant(ctx context.Context, tenant string) (*catalog.VersionedCatalog, error) {
	vc, err := m.store.Reload(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if m.bus != nil {
		if err := m.bus.Publish(ctx, tenant); err != nil {
			log.Warnf("[Reloader] Could not announce reload of %s: %v", tenant, err)
		}
	}
	return vc, nil
}

// ReloadAll reloads every tenant that is loaded or known to persistence.
// Failures are logged per tenant; the first one is returned.
func (m *Manager) ReloadAll(ctx context.Context) error {
	set := make(map[string]struct{})
	for _, t := range m.store.Tenants() {
		set[t] = struct{}{}
	}
	if m.tenants != nil {
		known, err := m.tenants.Tenants(ctx)
		if err != nil {
			return err
		}
		for _, t := range known {
			set[t] = struct{}{}
		}
	}
	tenants := make([]string, 0, len(set))
	for t := range set {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	var first error
	for _, t := range tenants {
		if _, err := m.store.Reload(ctx, t); err != nil {
			log.Errorf("[Reloader] Reload of tenant %s failed: %v", t, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// reloadWorker periodically reloads every tenant
func (m *Manager) reloadWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[Reloader] Started reload worker (interval: %s)", m.cfg.ReloadInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[Reloader] Reload worker stopping")
			return
		case <-m.reloadTicker.C:
			log.Debug("[Reloader] Running periodic catalog reload")
			_ = m.ReloadAll(context.Background())
		}
	}
}

// counterFlushWorker periodically flushes resolution counters from Redis to DB
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Reloader] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := m.flushCountersOnce(); err != nil {
				log.Errorf("[Reloader] Counter flush error: %v", err)
			}
		}
	}
}

// listenWorker reloads tenants whose reload another instance announced
func (m *Manager) listenWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		err := m.bus.Listen(ctx, m.applyAnnouncement)
		if ctx.Err() != nil {
			log.Info("[Reloader] Invalidation listener stopping")
			return
		}
		log.Errorf("[Reloader] Invalidation listener error, retrying: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// applyAnnouncement reloads a tenant another instance reloaded. When that
// fails the local catalog is known to be outdated, so it is dropped and the
// next request loads it again.
func (m *Manager) applyAnnouncement(ctx context.Context, tenant string) {
	if _, err := m.store.Reload(ctx, tenant); err != nil {
		log.Errorf("[Reloader] Announced reload of %s failed, dropping local catalog: %v", tenant, err)
		m.store.Invalidate(tenant)
	}
}

func (m *Manager) flushCountersOnce() error {
	n, err := m.counter.Flush(context.Background())
	if n > 0 {
		log.Debugf("[Reloader] Flushed resolution counters of %d override(s)", n)
	}
	return err
}
