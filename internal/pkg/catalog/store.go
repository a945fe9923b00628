package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2/log"
)

// SnapshotSource loads the snapshots of a tenant from persistence.
type SnapshotSource interface {
	LoadSnapshots(ctx context.Context, tenant string) ([]*Snapshot, error)
}

// InvalidationHook is called with the tenant whose catalog is about to be
// replaced. Hooks run before the new catalog becomes visible.
type InvalidationHook func(tenant string)

// Store holds the current VersionedCatalog of every tenant. Readers get an
// immutable reference; Reload publishes a new one.
type Store struct {
	source SnapshotSource

	mu      sync.RWMutex
	tenants map[string]*tenantSlot
	hooks   []InvalidationHook
}

type tenantSlot struct {
	current atomic.Pointer[VersionedCatalog]
	reload  sync.Mutex
}

// NewStore creates a store backed by source.
func NewStore(source SnapshotSource) *Store {
	return &Store{
		source:  source,
		tenants: make(map[string]*tenantSlot),
	}
}

// OnInvalidate registers a hook run on every reload.
func (s *Store) OnInvalidate(hook InvalidationHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Store) slot(tenant string) *tenantSlot {
	s.mu.RLock()
	sl, ok := s.tenants[tenant]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.tenants[tenant]; !ok {
		sl = &tenantSlot{}
		s.tenants[tenant] = sl
	}
	return sl
}

// Current returns the tenant's catalog, loading it on first use.
func (s *Store) Current(ctx context.Context, tenant string) (*VersionedCatalog, error) {
	sl := s.slot(tenant)
	if vc := sl.current.Load(); vc != nil {
		return vc, nil
	}

	sl.reload.Lock()
	defer sl.reload.Unlock()
	if vc := sl.current.Load(); vc != nil {
		return vc, nil
	}
	return s.reloadLocked(ctx, tenant, sl)
}

// Reload loads the tenant's snapshots again and publishes the new catalog.
func (s *Store) Reload(ctx context.Context, tenant string) (*VersionedCatalog, error) {
	sl := s.slot(tenant)
	sl.reload.Lock()
	defer sl.reload.Unlock()
	return s.reloadLocked(ctx, tenant, sl)
}

// Publish installs snapshots that were loaded by the caller.
func (s *Store) Publish(tenant string, snapshots ...*Snapshot) *VersionedCatalog {
	sl := s.slot(tenant)
	sl.reload.Lock()
	defer sl.reload.Unlock()
	vc := NewVersionedCatalog(tenant, snapshots...)
	s.swap(tenant, sl, vc)
	return vc
}

func (s *Store) reloadLocked(ctx context.Context, tenant string, sl *tenantSlot) (*VersionedCatalog, error) {
	if s.source == nil {
		return nil, fmt.Errorf("catalog store has no snapshot source for tenant %s", tenant)
	}
	snapshots, err := s.source.LoadSnapshots(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load catalog for tenant %s: %w", tenant, err)
	}
	vc := NewVersionedCatalog(tenant, snapshots...)
	s.swap(tenant, sl, vc)
	log.Infof("[Catalog] Loaded %d snapshot(s) for tenant %s", vc.Len(), tenant)
	return vc, nil
}

func (s *Store) swap(tenant string, sl *tenantSlot, vc *VersionedCatalog) {
	s.runHooks(tenant)
	sl.current.Store(vc)
}

func (s *Store) runHooks(tenant string) {
	s.mu.RLock()
	hooks := append([]InvalidationHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(tenant)
	}
}

// Invalidate drops the tenant's catalog; the next Current call reloads it.
func (s *Store) Invalidate(tenant string) {
	sl := s.slot(tenant)
	sl.reload.Lock()
	defer sl.reload.Unlock()
	s.runHooks(tenant)
	sl.current.Store(nil)
}

// Tenants returns the tenants with a loaded catalog, sorted.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for t, sl := range s.tenants {
		if sl.current.Load() != nil {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
