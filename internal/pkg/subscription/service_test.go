package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog/catalogtest"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/policy"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	clk := &clock{now: catalogtest.Date(2012, 4, 25)}
	svc := NewService(NewMemoryStore())
	svc.SetClock(clk.Now)
	return svc, clk
}

func createShotgun(t *testing.T, svc *Service) *Subscription {
	t.Helper()
	sub, err := svc.Create(context.Background(), &Subscription{
		Tenant:        "acme",
		PlanName:      "shotgun-monthly",
		BillingPeriod: catalog.BillingPeriodMonthly,
		StartDate:     catalogtest.Date(2012, 4, 25),
	})
	require.NoError(t, err)
	return sub
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newService(t)
	sub := createShotgun(t, svc)

	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, sub.StartDate, sub.BillingCycleAnchor)
	assert.Equal(t, catalogtest.Date(2012, 4, 25), sub.CreatedAt)

	_, err := svc.Create(context.Background(), &Subscription{Tenant: "acme", BillingPeriod: catalog.BillingPeriodMonthly, StartDate: time.Now()})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.Create(context.Background(), &Subscription{Tenant: "acme", PlanName: "p", BillingPeriod: "HOURLY", StartDate: time.Now()})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCancelEndOfTermThenUncancel(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)
	sub := createShotgun(t, svc)

	clk.Set(catalogtest.Date(2012, 5, 7))
	cancelled, err := svc.Cancel(ctx, sub.ID, policy.EndOfTerm)
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledDate)
	assert.Equal(t, catalogtest.Date(2012, 5, 25), *cancelled.CancelledDate)
	assert.False(t, cancelled.CancelledAt(catalogtest.Date(2012, 5, 24)))
	assert.True(t, cancelled.CancelledAt(catalogtest.Date(2012, 5, 25)))

	_, err = svc.Cancel(ctx, sub.ID, policy.Immediate)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	restored, err := svc.Uncancel(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.CancelledDate)
	assert.False(t, restored.CancelledAt(catalogtest.Date(2013, 1, 1)))

	_, err = svc.Uncancel(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNothingToUncancel)
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, sub.ID, serr.ID)
}

func TestUncancelWithoutPendingCancellation(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)
	sub := createShotgun(t, svc)

	_, err := svc.Uncancel(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNothingToUncancel, "never cancelled")

	_, err = svc.Cancel(ctx, sub.ID, policy.Immediate)
	require.NoError(t, err)
	_, err = svc.Uncancel(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNothingToUncancel, "immediate cancellation already took effect")

	other := createShotgun(t, svc)
	clk.Set(catalogtest.Date(2012, 5, 7))
	_, err = svc.Cancel(ctx, other.ID, policy.EndOfTerm)
	require.NoError(t, err)
	clk.Set(catalogtest.Date(2012, 5, 26))
	_, err = svc.Uncancel(ctx, other.ID)
	assert.ErrorIs(t, err, ErrNothingToUncancel, "cancellation date has passed")
}

func TestConcurrentUncancelSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)
	sub := createShotgun(t, svc)
	clk.Set(catalogtest.Date(2012, 5, 7))
	_, err := svc.Cancel(ctx, sub.ID, policy.EndOfTerm)
	require.NoError(t, err)

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Uncancel(ctx, sub.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNothingToUncancel):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, rejected)
}

func TestUnknownSubscription(t *testing.T) {
	svc, _ := newService(t)
	id := uuid.New()

	_, err := svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Cancel(context.Background(), id, policy.Immediate)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Uncancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangePlan(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)
	sub := createShotgun(t, svc)

	clk.Set(catalogtest.Date(2012, 5, 7))
	changed, err := svc.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.EndOfTerm)
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", changed.PlanName)
	pending := changed.PendingPlanChange(clk.Now())
	require.NotNil(t, pending)
	assert.Equal(t, "assault-rifle-monthly", pending.PlanName)
	assert.Equal(t, catalogtest.Date(2012, 5, 25), pending.EffectiveDate)
	assert.Equal(t, "shotgun-monthly", changed.PlanAt(catalogtest.Date(2012, 5, 24)))
	assert.Equal(t, "assault-rifle-monthly", changed.PlanAt(catalogtest.Date(2012, 5, 25)))

	// an immediate change replaces the pending one
	changed, err = svc.ChangePlan(ctx, sub.ID, "shotgun-monthly", policy.Immediate)
	require.NoError(t, err)
	assert.Nil(t, changed.PendingPlanChange(clk.Now()))
	assert.Equal(t, []PlanChange{{PlanName: "shotgun-monthly", EffectiveDate: catalogtest.Date(2012, 5, 7)}}, changed.PlanChanges)
	assert.Equal(t, "shotgun-monthly", changed.PlanAt(catalogtest.Date(2012, 6, 1)))

	_, err = svc.ChangePlan(ctx, sub.ID, "  ", policy.Immediate)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.ChangePlan(ctx, sub.ID, "x", policy.BillingActionPolicy("SOMEDAY"))
	assert.ErrorIs(t, err, policy.ErrUnknownPolicy)
}

func TestChangePlanKeepsHistory(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)
	sub := createShotgun(t, svc)

	clk.Set(catalogtest.Date(2012, 6, 10))
	changed, err := svc.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.Immediate)
	require.NoError(t, err)
	assert.Equal(t, "shotgun-monthly", changed.PlanName, "the starting plan is kept")

	before := changed.PeriodAt(catalogtest.Date(2012, 5, 1))
	assert.Equal(t, PlanPeriod{PlanName: "shotgun-monthly", Since: catalogtest.Date(2012, 4, 25)}, before)
	after := changed.PeriodAt(catalogtest.Date(2012, 6, 11))
	assert.Equal(t, PlanPeriod{PlanName: "assault-rifle-monthly", Since: catalogtest.Date(2012, 6, 10), Changed: true}, after)

	// chained: end of term from the new plan back to shotgun
	clk.Set(catalogtest.Date(2012, 6, 20))
	changed, err = svc.ChangePlan(ctx, sub.ID, "shotgun-monthly", policy.EndOfTerm)
	require.NoError(t, err)
	require.Len(t, changed.PlanChanges, 2)
	assert.Equal(t, "shotgun-monthly", changed.PlanAt(catalogtest.Date(2012, 6, 1)))
	assert.Equal(t, "assault-rifle-monthly", changed.PlanAt(catalogtest.Date(2012, 6, 24)))
	last := changed.PeriodAt(catalogtest.Date(2012, 7, 1))
	assert.Equal(t, PlanPeriod{PlanName: "shotgun-monthly", Since: catalogtest.Date(2012, 6, 25), Changed: true}, last)
}

type racingStore struct {
	*MemoryStore
	lost int
}

func (r *racingStore) SwapPlanChanges(ctx context.Context, id uuid.UUID, prev, next []PlanChange) (bool, error) {
	if r.lost > 0 {
		r.lost--
		return false, nil
	}
	return r.MemoryStore.SwapPlanChanges(ctx, id, prev, next)
}

func TestChangePlanRetriesLostSwap(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: NewMemoryStore(), lost: 1}
	svc := NewService(store)
	svc.SetClock(func() time.Time { return catalogtest.Date(2012, 5, 7) })
	sub := createShotgun(t, svc)

	changed, err := svc.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.Immediate)
	require.NoError(t, err)
	assert.Len(t, changed.PlanChanges, 1)

	store.lost = maxPlanChangeAttempts
	_, err = svc.ChangePlan(ctx, sub.ID, "shotgun-monthly", policy.Immediate)
	assert.ErrorIs(t, err, ErrConcurrentChange)
}

func TestChangePlanAfterCancellation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	sub := createShotgun(t, svc)

	_, err := svc.Cancel(ctx, sub.ID, policy.Immediate)
	require.NoError(t, err)
	_, err = svc.ChangePlan(ctx, sub.ID, "assault-rifle-monthly", policy.Immediate)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}
