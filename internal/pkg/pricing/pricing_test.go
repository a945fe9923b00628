package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog/catalogtest"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/policy"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

type fixture struct {
	source  *catalog.MemorySource
	store   *catalog.Store
	cache   *override.Cache
	records *override.MemoryStore
	facade  *Facade
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:  catalog.NewMemorySource(),
		cache:   override.NewCache(override.DefaultCacheConfig()),
		records: override.NewMemoryStore(),
	}
	f.source.Add(catalogtest.Snapshot("acme", catalogtest.Date(2012, 1, 1), 1,
		catalogtest.ShotgunMonthly(0, 50), catalogtest.AssaultRifleMonthly(100)))
	f.store = catalog.NewStore(f.source)
	f.facade = NewFacade(f.store, override.NewRegistry(f.records, override.Options{}), f.cache)
	return f
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Record(_ context.Context, fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[fp]++
}

func trialOverride(price int64) *OverrideRequest {
	return &OverrideRequest{Phases: []override.PhasePriceOverride{
		{PhaseType: catalog.PhaseTrial, Price: decimal.NewFromInt(price)},
	}}
}

func TestResolvePriceWithoutOverride(t *testing.T) {
	f := newFixture(t)
	got, err := f.facade.ResolvePrice(context.Background(), "acme", catalogtest.Date(2012, 5, 1), PlanRequest{PlanName: "shotgun-monthly"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "shotgun-monthly", got.PlanName)
	assert.Equal(t, "shotgun-monthly", got.BasePlanName)
	assert.Equal(t, "Shotgun", got.Product)
	assert.Equal(t, catalog.CategoryBase, got.ProductCategory)
	assert.False(t, got.Overridden)
	assert.Empty(t, got.Fingerprint)
	assert.Equal(t, int64(1), got.SnapshotVersion)
	require.Len(t, got.Phases, 2)
	assert.True(t, got.Phases[1].Price.Equal(decimal.NewFromInt(50)))
	assert.Nil(t, got.Current)
}

func TestShotgunTrialOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &countingRecorder{}
	f.facade.WithRecorder(rec)
	start := catalogtest.Date(2012, 4, 25)
	req := PlanRequest{PlanName: "shotgun-monthly", SubscriptionStart: &start}

	inTrial, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 7), req, trialOverride(10))
	require.NoError(t, err)
	require.NotNil(t, inTrial.Current)
	assert.Equal(t, catalog.PhaseTrial, inTrial.Current.Type)
	assert.True(t, inTrial.Current.Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, inTrial.Overridden)
	assert.Regexp(t, `^shotgun-monthly-[0-9a-f]{12}$`, inTrial.PlanName)

	// trial ends after 30 days on 2012-05-25
	afterTrial, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 25), req, trialOverride(10))
	require.NoError(t, err)
	require.NotNil(t, afterTrial.Current)
	assert.Equal(t, catalog.PhaseEvergreen, afterTrial.Current.Type)
	assert.True(t, afterTrial.Current.Price.Equal(decimal.NewFromInt(50)))

	assert.Equal(t, inTrial.PlanName, afterTrial.PlanName, "override plan name is stable")
	assert.Equal(t, 1, f.records.Len())
	assert.Equal(t, override.CacheStats{Hits: 1, Misses: 1}, f.cache.Stats())
	assert.Equal(t, 2, rec.counts[inTrial.Fingerprint])
}

func TestResolvePriceErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2011, 12, 31), PlanRequest{PlanName: "shotgun-monthly"}, nil)
	assert.ErrorIs(t, err, catalog.ErrNoApplicableCatalogVersion)

	_, err = f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 1), PlanRequest{PlanName: "pistol-monthly"}, nil)
	assert.ErrorIs(t, err, catalog.ErrPlanNotFound)
	var cerr *catalog.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "acme", cerr.Tenant)
	assert.Equal(t, "pistol-monthly", cerr.Plan)

	_, err = f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 1), PlanRequest{PlanName: "shotgun-monthly"}, &OverrideRequest{})
	assert.ErrorIs(t, err, override.ErrEmptyOverride)
}

func TestCatalogReloadStraddlingBillingCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// warm the cache against version 1
	_, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 15), PlanRequest{PlanName: "shotgun-monthly"}, trialOverride(10))
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len("acme"))

	// new snapshot effective next month raises the evergreen price and
	// retires the assault rifle
	f.source.Add(catalogtest.Snapshot("acme", catalogtest.Date(2012, 6, 1), 2, catalogtest.ShotgunMonthly(0, 60)))
	_, err = f.store.Reload(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.Len("acme"), "reload flushes the tenant's overridden plans")

	before, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 31), PlanRequest{PlanName: "shotgun-monthly"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), before.SnapshotVersion)
	assert.True(t, before.Phases[1].Price.Equal(decimal.NewFromInt(50)))

	after, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 6, 1), PlanRequest{PlanName: "shotgun-monthly"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.SnapshotVersion)
	assert.True(t, after.Phases[1].Price.Equal(decimal.NewFromInt(60)))

	_, err = f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 5, 31), PlanRequest{PlanName: "assault-rifle-monthly"}, nil)
	assert.NoError(t, err)
	_, err = f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 6, 2), PlanRequest{PlanName: "assault-rifle-monthly"}, nil)
	assert.ErrorIs(t, err, catalog.ErrPlanNotFound)

	spans, err := f.facade.ResolveRange(ctx, "acme", catalogtest.Date(2012, 5, 25), catalogtest.Date(2012, 6, 25))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, catalogtest.Date(2012, 5, 25), spans[0].ValidFrom)
	assert.Equal(t, catalogtest.Date(2012, 6, 1), spans[0].ValidTo)
	assert.Equal(t, int64(1), spans[0].Snapshot.Version)
	assert.Equal(t, catalogtest.Date(2012, 6, 1), spans[1].ValidFrom)
	assert.Equal(t, catalogtest.Date(2012, 6, 25), spans[1].ValidTo)
	assert.Equal(t, int64(2), spans[1].Snapshot.Version)

	// the override survives the reload with the same name
	again, err := f.facade.ResolvePrice(ctx, "acme", catalogtest.Date(2012, 6, 15), PlanRequest{PlanName: "shotgun-monthly"}, trialOverride(10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.SnapshotVersion)
	assert.True(t, again.Phases[1].Price.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, 1, f.records.Len())
}

type subscriptionClock struct{ now time.Time }

func (c *subscriptionClock) Now() time.Time { return c.now }

func TestResolveSubscriptionPriceAcrossCancelAndUncancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	clk := &subscriptionClock{now: catalogtest.Date(2012, 4, 25)}
	subs := subscription.NewService(subscription.NewMemoryStore())
	subs.SetClock(clk.Now)
	f.facade.WithSubscriptions(subs)

	sub, err := subs.Create(ctx, &subscription.Subscription{
		Tenant:         "acme",
		PlanName:       "shotgun-monthly",
		BillingPeriod:  catalog.BillingPeriodMonthly,
		StartDate:      catalogtest.Date(2012, 4, 25),
		PriceOverrides: trialOverride(10).Phases,
	})
	require.NoError(t, err)

	clk.now = catalogtest.Date(2012, 5, 7)
	_, err = subs.Cancel(ctx, sub.ID, policy.EndOfTerm)
	require.NoError(t, err)

	inTrial, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 5, 10))
	require.NoError(t, err)
	assert.True(t, inTrial.Current.Price.Equal(decimal.NewFromInt(10)))

	_, err = f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 10))
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)

	_, err = subs.Uncancel(ctx, sub.ID)
	require.NoError(t, err)

	later, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 10))
	require.NoError(t, err)
	assert.Equal(t, catalog.PhaseEvergreen, later.Current.Type)
	assert.True(t, later.Current.Price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, inTrial.PlanName, later.PlanName)
}

func TestResolveSubscriptionPriceFollowsPendingPlanChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	clk := &subscriptionClock{now: catalogtest.Date(2012, 4, 25)}
	subs := subscription.NewService(subscription.NewMemoryStore())
	subs.SetClock(clk.Now)
	f.facade.WithSubscriptions(subs)

	sub, err := subs.Create(ctx, &subscription.Subscription{
		Tenant:        "acme",
		PlanName:      "shotgun-monthly",
		BillingPeriod: catalog.BillingPeriodMonthly,
		StartDate:     catalogtest.Date(2012, 4, 25),
	})
	require.NoError(t, err)

	clk.now = catalogtest.Date(2012, 6, 1)
	_, err = subs.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.EndOfTerm)
	require.NoError(t, err)

	before, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 24))
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", before.PlanName)

	after, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 25))
	require.NoError(t, err)
	assert.Equal(t, "assault-rifle-monthly", after.PlanName)
	assert.True(t, after.Current.Price.Equal(decimal.NewFromInt(100)))
}

func newSubscriptionFixture(t *testing.T) (*fixture, *subscription.Service, *subscriptionClock) {
	t.Helper()
	f := newFixture(t)
	clk := &subscriptionClock{now: catalogtest.Date(2012, 4, 25)}
	subs := subscription.NewService(subscription.NewMemoryStore())
	subs.SetClock(clk.Now)
	f.facade.WithSubscriptions(subs)
	return f, subs, clk
}

func TestResolveSubscriptionPriceDropsOverridesAfterImmediateChange(t *testing.T) {
	ctx := context.Background()
	f, subs, clk := newSubscriptionFixture(t)

	sub, err := subs.Create(ctx, &subscription.Subscription{
		Tenant:        "acme",
		PlanName:      "shotgun-monthly",
		BillingPeriod: catalog.BillingPeriodMonthly,
		StartDate:     catalogtest.Date(2012, 4, 25),
		PriceOverrides: []override.PhasePriceOverride{
			{PhaseType: catalog.PhaseEvergreen, Price: decimal.NewFromInt(20)},
		},
	})
	require.NoError(t, err)

	clk.now = catalogtest.Date(2012, 6, 10)
	_, err = subs.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.Immediate)
	require.NoError(t, err)

	after, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 11))
	require.NoError(t, err)
	assert.Equal(t, "assault-rifle-monthly", after.PlanName)
	assert.False(t, after.Overridden)
	assert.True(t, after.Current.Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, f.records.Len(), "no override record minted for the new plan")

	before, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", before.BasePlanName)
	assert.True(t, before.Overridden)
	assert.Equal(t, catalog.PhaseTrial, before.Current.Type)

	lastDay, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 9))
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", lastDay.BasePlanName)
	assert.Equal(t, catalog.PhaseEvergreen, lastDay.Current.Type)
	assert.True(t, lastDay.Current.Price.Equal(decimal.NewFromInt(20)))
}

func TestResolveSubscriptionPriceChainedChangeKeepsOverridesOnOriginalPlan(t *testing.T) {
	ctx := context.Background()
	f, subs, clk := newSubscriptionFixture(t)

	sub, err := subs.Create(ctx, &subscription.Subscription{
		Tenant:        "acme",
		PlanName:      "shotgun-monthly",
		BillingPeriod: catalog.BillingPeriodMonthly,
		StartDate:     catalogtest.Date(2012, 4, 25),
		PriceOverrides: []override.PhasePriceOverride{
			{PhaseType: catalog.PhaseEvergreen, Price: decimal.NewFromInt(20)},
		},
	})
	require.NoError(t, err)

	clk.now = catalogtest.Date(2012, 6, 1)
	_, err = subs.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.EndOfTerm)
	require.NoError(t, err)
	clk.now = catalogtest.Date(2012, 7, 1)
	_, err = subs.ChangePlan(ctx, sub.ID, "shotgun-monthly", policy.EndOfTerm)
	require.NoError(t, err)

	onAssault, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 7, 10))
	require.NoError(t, err)
	assert.Equal(t, "assault-rifle-monthly", onAssault.PlanName)
	assert.False(t, onAssault.Overridden)

	// back on shotgun, but as a new plan period: no overrides, fresh trial
	back, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 7, 26))
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", back.PlanName)
	assert.False(t, back.Overridden)
	assert.Equal(t, catalog.PhaseTrial, back.Current.Type)

	original, err := f.facade.ResolveSubscriptionPrice(ctx, sub.ID, catalogtest.Date(2012, 6, 1))
	require.NoError(t, err)
	assert.True(t, original.Overridden)
	assert.True(t, original.Current.Price.Equal(decimal.NewFromInt(20)))
}

func TestResolveSubscriptionPriceNewPlanPhasesStartAtChange(t *testing.T) {
	ctx := context.Background()
	f, subs, clk := newSubscriptionFixture(t)

	create := func() *subscription.Subscription {
		sub, err := subs.Create(ctx, &subscription.Subscription{
			Tenant:        "acme",
			PlanName:      "assault-rifle-monthly",
			BillingPeriod: catalog.BillingPeriodMonthly,
			StartDate:     catalogtest.Date(2012, 4, 25),
		})
		require.NoError(t, err)
		return sub
	}
	immediate, endOfTerm := create(), create()

	clk.now = catalogtest.Date(2012, 6, 10)
	_, err := subs.ChangePlan(ctx, immediate.ID, "shotgun-monthly", policy.Immediate)
	require.NoError(t, err)
	_, err = subs.ChangePlan(ctx, endOfTerm.ID, "shotgun-monthly", policy.EndOfTerm)
	require.NoError(t, err)

	a, err := f.facade.ResolveSubscriptionPrice(ctx, immediate.ID, catalogtest.Date(2012, 6, 11))
	require.NoError(t, err)
	b, err := f.facade.ResolveSubscriptionPrice(ctx, endOfTerm.ID, catalogtest.Date(2012, 6, 26))
	require.NoError(t, err)

	for _, got := range []*ResolvedPlanPrice{a, b} {
		assert.Equal(t, "shotgun-monthly", got.PlanName)
		assert.Equal(t, catalog.PhaseTrial, got.Current.Type)
		assert.True(t, got.Current.Price.IsZero())
	}
}
