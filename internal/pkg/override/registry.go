package override

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

// Registry creates and reuses price overrides. Identical override
// combinations always map to one stored record and one plan name.
type Registry struct {
	store   Store
	pattern Pattern
	group   singleflight.Group
	now     func() time.Time
}

// NewRegistry creates a registry on top of store.
func NewRegistry(store Store, opts Options) *Registry {
	return &Registry{
		store:   store,
		pattern: NewPattern(opts.UseStrictOverridePattern),
		now:     time.Now,
	}
}

// Pattern returns the naming pattern in use.
func (r *Registry) Pattern() Pattern {
	return r.pattern
}

// Prepare normalizes the request and computes its fingerprint without
// touching the store.
func (r *Registry) Prepare(tenant string, base *catalog.Plan, reqs []PhasePriceOverride) (string, []OverridePoint, error) {
	points, err := Normalize(tenant, base, reqs)
	if err != nil {
		return "", nil, err
	}
	return Fingerprint(base.Name, points), points, nil
}

// GetOrCreate returns the override for (base plan, requested prices),
// creating it on first use.
func (r *Registry) GetOrCreate(ctx context.Context, tenant string, base *catalog.Plan, reqs []PhasePriceOverride) (*PriceOverride, error) {
	fp, points, err := r.Prepare(tenant, base, reqs)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(fp, func() (interface{}, error) {
		return r.getOrCreate(ctx, tenant, base.Name, fp, points)
	})
	if err != nil {
		return nil, err
	}
	po := v.(*PriceOverride)
	if po.BasePlanName != base.Name {
		return nil, &Error{Err: ErrFingerprintCollision, Tenant: tenant, Plan: base.Name, Fingerprint: fp}
	}
	return clonePriceOverride(*po), nil
}

func (r *Registry) getOrCreate(ctx context.Context, tenant, basePlan, fp string, points []OverridePoint) (*PriceOverride, error) {
	existing, err := r.store.GetByFingerprint(ctx, fp)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, &Error{Err: err, Tenant: tenant, Plan: basePlan, Fingerprint: fp}
	}

	rec := &PriceOverride{
		Fingerprint:  fp,
		Tenant:       tenant,
		BasePlanName: basePlan,
		Overrides:    points,
		PlanName:     r.pattern.PlanName(basePlan, fp),
		CreatedAt:    r.now().UTC(),
	}
	created, stored, err := r.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, &Error{Err: err, Tenant: tenant, Plan: basePlan, Fingerprint: fp}
	}
	if created {
		log.Infof("[PriceOverride] Created %s for plan %s (tenant %s)", stored.PlanName, basePlan, tenant)
	} else {
		log.Debugf("[PriceOverride] %v on %s, reusing stored record %s", ErrOverrideCreationConflict, fp, stored.PlanName)
	}
	return stored, nil
}
