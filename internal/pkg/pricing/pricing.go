// Package pricing is the entry point other billing code calls to find the
// plan and price governing a date.
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

// ErrSubscriptionCancelled is returned when a subscription is resolved for a
// date on or after its cancellation.
var ErrSubscriptionCancelled = errors.New("subscription cancelled")

// Catalogs hands out the current versioned catalog of a tenant.
// *catalog.Store implements it.
type Catalogs interface {
	Current(ctx context.Context, tenant string) (*catalog.VersionedCatalog, error)
	OnInvalidate(hook catalog.InvalidationHook)
}

// Subscriptions loads subscriptions for ResolveSubscriptionPrice.
type Subscriptions interface {
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// Recorder counts override resolutions.
type Recorder interface {
	Record(ctx context.Context, fingerprint string)
}

// PlanRequest names the base plan. SubscriptionStart, when set, selects the
// phase in effect at the resolved date.
type PlanRequest struct {
	PlanName          string
	SubscriptionStart *time.Time
}

// OverrideRequest asks for custom phase prices on top of the base plan.
type OverrideRequest struct {
	Phases []override.PhasePriceOverride
}

// PhasePrice is the price of one phase.
type PhasePrice struct {
	Name     string            `json:"name"`
	Type     catalog.PhaseType `json:"type"`
	Duration catalog.Duration  `json:"duration"`
	Price    decimal.Decimal   `json:"price"`
}

// ResolvedPlanPrice is the plan and price governing a date.
type ResolvedPlanPrice struct {
	Tenant            string                  `json:"tenant"`
	Date              time.Time               `json:"date"`
	SnapshotEffective time.Time               `json:"snapshot_effective"`
	SnapshotVersion   int64                   `json:"snapshot_version"`
	PlanName          string                  `json:"plan_name"`
	BasePlanName      string                  `json:"base_plan_name"`
	Product           string                  `json:"product"`
	ProductCategory   catalog.ProductCategory `json:"product_category,omitempty"`
	BillingPeriod     catalog.BillingPeriod   `json:"billing_period"`
	Overridden        bool                    `json:"overridden"`
	Fingerprint       string                  `json:"fingerprint,omitempty"`
	Phases            []PhasePrice            `json:"phases"`
	Current           *PhasePrice             `json:"current,omitempty"`
}

// Facade combines version resolution, the override registry and the
// overridden-plan cache.
type Facade struct {
	catalogs Catalogs
	registry *override.Registry
	cache    *override.Cache
	subs     Subscriptions
	recorder Recorder
}

// NewFacade wires the facade and registers the cache flush on catalog reload.
func NewFacade(catalogs Catalogs, registry *override.Registry, cache *override.Cache) *Facade {
	f := &Facade{
		catalogs: catalogs,
		registry: registry,
		cache:    cache,
	}
	catalogs.OnInvalidate(cache.Flush)
	return f
}

// WithSubscriptions enables ResolveSubscriptionPrice.
func (f *Facade) WithSubscriptions(subs Subscriptions) *Facade {
	f.subs = subs
	return f
}

// WithRecorder counts every override resolution.
func (f *Facade) WithRecorder(r Recorder) *Facade {
	f.recorder = r
	return f
}

// ResolvePrice returns the plan and price in effect for tenant at date.
func (f *Facade) ResolvePrice(ctx context.Context, tenant string, date time.Time, req PlanRequest, ovr *OverrideRequest) (*ResolvedPlanPrice, error) {
	vc, err := f.catalogs.Current(ctx, tenant)
	if err != nil {
		return nil, err
	}
	snap, err := catalog.Resolve(vc, date)
	if err != nil {
		return nil, err
	}
	base, ok := snap.Plan(req.PlanName)
	if !ok {
		return nil, &catalog.Error{Err: catalog.ErrPlanNotFound, Tenant: tenant, Date: date, Plan: req.PlanName}
	}

	if ovr == nil {
		return newResolved(tenant, date, snap, base, base.Name, "", req.SubscriptionStart), nil
	}

	plan, err := f.overridden(ctx, tenant, snap, base, ovr.Phases)
	if err != nil {
		return nil, err
	}
	if f.recorder != nil {
		f.recorder.Record(ctx, plan.Fingerprint)
	}
	return newResolved(tenant, date, snap, &plan.Plan, base.Name, plan.Fingerprint, req.SubscriptionStart), nil
}

func (f *Facade) overridden(ctx context.Context, tenant string, snap *catalog.Snapshot, base *catalog.Plan, phases []override.PhasePriceOverride) (*override.OverriddenPlan, error) {
	fp, _, err := f.registry.Prepare(tenant, base, phases)
	if err != nil {
		return nil, err
	}
	key := override.CacheKey{
		Tenant:            tenant,
		SnapshotVersion:   snap.Version,
		SnapshotEffective: snap.EffectiveDate,
		Fingerprint:       fp,
	}
	if plan, ok := f.cache.Get(key); ok {
		return plan, nil
	}

	po, err := f.registry.GetOrCreate(ctx, tenant, base, phases)
	if err != nil {
		return nil, err
	}
	plan := override.Materialize(snap, base, po)
	f.cache.Put(key, plan)
	return plan, nil
}

// ResolveSubscriptionPrice resolves the plan a subscription is on at date,
// with the subscription's price overrides applied.
func (f *Facade) ResolveSubscriptionPrice(ctx context.Context, id uuid.UUID, date time.Time) (*ResolvedPlanPrice, error) {
	if f.subs == nil {
		return nil, errors.New("pricing facade has no subscription source")
	}
	sub, err := f.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.CancelledAt(date) {
		return nil, &subscription.Error{Err: ErrSubscriptionCancelled, ID: id, Date: *sub.CancelledDate}
	}

	// each plan's phases start when that plan took over; overrides belong to
	// the plan the subscription started on
	period := sub.PeriodAt(date)
	since := period.Since
	req := PlanRequest{PlanName: period.PlanName, SubscriptionStart: &since}
	var ovr *OverrideRequest
	if !period.Changed && len(sub.PriceOverrides) > 0 {
		ovr = &OverrideRequest{Phases: sub.PriceOverrides}
	}
	return f.ResolvePrice(ctx, sub.Tenant, date, req, ovr)
}

// ResolveRange splits [from, to) across the tenant's catalog versions.
func (f *Facade) ResolveRange(ctx context.Context, tenant string, from, to time.Time) ([]catalog.Span, error) {
	vc, err := f.catalogs.Current(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return catalog.ResolveRange(vc, from, to)
}

func newResolved(tenant string, date time.Time, snap *catalog.Snapshot, plan *catalog.Plan, baseName, fp string, start *time.Time) *ResolvedPlanPrice {
	r := &ResolvedPlanPrice{
		Tenant:            tenant,
		Date:              date,
		SnapshotEffective: snap.EffectiveDate,
		SnapshotVersion:   snap.Version,
		PlanName:          plan.Name,
		BasePlanName:      baseName,
		Product:           plan.Product,
		BillingPeriod:     plan.BillingPeriod,
		Overridden:        fp != "",
		Fingerprint:       fp,
		Phases:            make([]PhasePrice, len(plan.Phases)),
	}
	if p, ok := snap.Product(plan.Product); ok {
		r.ProductCategory = p.Category
	}
	for i, ph := range plan.Phases {
		r.Phases[i] = PhasePrice{Name: ph.Name, Type: ph.Type, Duration: ph.Duration, Price: ph.Price}
	}
	if start != nil {
		if i := plan.PhaseAt(*start, date); i >= 0 {
			cur := r.Phases[i]
			r.Current = &cur
		}
	}
	return r
}
