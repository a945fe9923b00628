package reloader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog/catalogtest"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/invalidation"
)

type countingFlusher struct {
	calls atomic.Int64
}

func (f *countingFlusher) Flush(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

type staticTenants []string

func (s staticTenants) Tenants(context.Context) ([]string, error) {
	return s, nil
}

func newSource() *catalog.MemorySource {
	src := catalog.NewMemorySource()
	src.Add(catalogtest.Snapshot("acme", catalogtest.Date(2012, 1, 1), 1, catalogtest.ShotgunMonthly(0, 50)))
	return src
}

func loaded(t *testing.T, store *catalog.Store, tenant string) int {
	t.Helper()
	vc, err := store.Current(context.Background(), tenant)
	if err != nil {
		return -1
	}
	return vc.Len()
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(Config{}, catalog.NewStore(newSource()), nil, nil, nil)

	assert.False(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, defaultReloadInterval, m.cfg.ReloadInterval)
	assert.Equal(t, defaultFlushInterval, m.cfg.FlushInterval)
}

func TestManager_Restart(t *testing.T) {
	flusher := &countingFlusher{}
	m := NewManager(Config{ReloadInterval: time.Hour, FlushInterval: time.Hour}, catalog.NewStore(newSource()), nil, flusher, nil)

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, int64(1), flusher.calls.Load(), "stop flushes once more")

	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.Equal(t, int64(2), flusher.calls.Load())
}

func TestManager_PeriodicReload(t *testing.T) {
	src := newSource()
	store := catalog.NewStore(src)
	require.Equal(t, 1, loaded(t, store, "acme"))

	flusher := &countingFlusher{}
	m := NewManager(Config{ReloadInterval: 10 * time.Millisecond, FlushInterval: 10 * time.Millisecond}, store, nil, flusher, nil)
	m.Start()
	defer m.Stop()

	src.Add(catalogtest.Snapshot("acme", catalogtest.Date(2012, 6, 1), 2, catalogtest.ShotgunMonthly(0, 60)))
	assert.Eventually(t, func() bool { return loaded(t, store, "acme") == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return flusher.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_ReloadAllIncludesKnownTenants(t *testing.T) {
	src := newSource()
	src.Add(catalogtest.Snapshot("globex", catalogtest.Date(2012, 1, 1), 1, catalogtest.AssaultRifleMonthly(100)))
	store := catalog.NewStore(src)

	m := NewManager(Config{}, store, staticTenants{"acme", "globex"}, nil, nil)
	require.NoError(t, m.ReloadAll(context.Background()))
	assert.Equal(t, []string{"acme", "globex"}, store.Tenants())
}

func TestManager_ReloadAnnouncedToOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	src := newSource()
	storeA := catalog.NewStore(src)
	storeB := catalog.NewStore(src)
	require.Equal(t, 1, loaded(t, storeB, "acme"))

	a := NewManager(Config{ReloadInterval: time.Hour}, storeA, nil, nil, invalidation.NewBus(rdb, ""))
	b := NewManager(Config{ReloadInterval: time.Hour}, storeB, nil, nil, invalidation.NewBus(rdb, ""))
	b.Start()
	defer b.Stop()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels(invalidation.DefaultChannel)) == 1
	}, time.Second, 5*time.Millisecond)

	src.Add(catalogtest.Snapshot("acme", catalogtest.Date(2012, 6, 1), 2, catalogtest.ShotgunMonthly(0, 60)))
	vc, err := a.ReloadTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, vc.Len())

	assert.Eventually(t, func() bool { return loaded(t, storeB, "acme") == 2 }, time.Second, 5*time.Millisecond)
}

type flakySource struct {
	*catalog.MemorySource
	fail atomic.Bool
}

func (s *flakySource) LoadSnapshots(ctx context.Context, tenant string) ([]*catalog.Snapshot, error) {
	if s.fail.Load() {
		return nil, errors.New("catalog storage unavailable")
	}
	return s.MemorySource.LoadSnapshots(ctx, tenant)
}

func TestManager_FailedAnnouncedReloadDropsCatalog(t *testing.T) {
	src := &flakySource{MemorySource: newSource()}
	store := catalog.NewStore(src)
	flushed := 0
	store.OnInvalidate(func(string) { flushed++ })
	m := NewManager(Config{}, store, nil, nil, nil)

	require.Equal(t, 1, loaded(t, store, "acme"))
	before := flushed

	src.fail.Store(true)
	m.applyAnnouncement(context.Background(), "acme")
	assert.Empty(t, store.Tenants())
	assert.Equal(t, before+1, flushed, "dependent caches are flushed")
	assert.Equal(t, -1, loaded(t, store, "acme"))

	src.fail.Store(false)
	assert.Equal(t, 1, loaded(t, store, "acme"))
}
