package override

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheMaxSize = 1024
	defaultCacheTTL     = 30 * time.Minute
)

// CacheConfig bounds each tenant partition of the cache.
type CacheConfig struct {
	// MaxSize is the maximum number of entries per tenant (LRU eviction).
	MaxSize int
	// TTL is how long an entry stays valid after it was stored.
	TTL time.Duration
}

// DefaultCacheConfig returns the default bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: defaultCacheMaxSize,
		TTL:     defaultCacheTTL,
	}
}

// CacheKey identifies a materialized plan. It includes the snapshot identity
// so a plan built from one catalog version is never served for another.
type CacheKey struct {
	Tenant            string
	SnapshotVersion   int64
	SnapshotEffective time.Time
	Fingerprint       string
}

func (k CacheKey) partitionKey() string {
	return fmt.Sprintf("%d:%d:%s", k.SnapshotVersion, k.SnapshotEffective.Unix(), k.Fingerprint)
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// Cache memoizes overridden plans per tenant with LRU + TTL eviction.
type Cache struct {
	cfg CacheConfig

	mu         sync.RWMutex
	partitions map[string]*expirable.LRU[string, *OverriddenPlan]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache. Zero config values fall back to defaults.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultCacheMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	return &Cache{
		cfg:        cfg,
		partitions: make(map[string]*expirable.LRU[string, *OverriddenPlan]),
	}
}

func (c *Cache) partition(tenant string, create bool) *expirable.LRU[string, *OverriddenPlan] {
	c.mu.RLock()
	p, ok := c.partitions[tenant]
	c.mu.RUnlock()
	if ok || !create {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[tenant]; !ok {
		// partitions live for the process lifetime; Flush purges in place
		p = expirable.NewLRU[string, *OverriddenPlan](c.cfg.MaxSize, nil, c.cfg.TTL)
		c.partitions[tenant] = p
	}
	return p
}

// Get returns the cached plan. A miss is not an error.
func (c *Cache) Get(key CacheKey) (*OverriddenPlan, bool) {
	p := c.partition(key.Tenant, false)
	if p == nil {
		c.misses.Add(1)
		return nil, false
	}
	plan, ok := p.Get(key.partitionKey())
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return plan, true
}

// Put stores a plan.
func (c *Cache) Put(key CacheKey, plan *OverriddenPlan) {
	c.partition(key.Tenant, true).Add(key.partitionKey(), plan)
}

// Flush drops every entry of a tenant.
func (c *Cache) Flush(tenant string) {
	if p := c.partition(tenant, false); p != nil {
		p.Purge()
	}
}

// Len returns the number of live entries of a tenant.
func (c *Cache) Len(tenant string) int {
	if p := c.partition(tenant, false); p != nil {
		return p.Len()
	}
	return 0
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
