package apiv1

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// PhasePriceOverride defines a requested phase price.
type PhasePriceOverride struct {
	PhaseName string          `json:"phase_name" validate:"required_without=PhaseType,max=255"`
	PhaseType string          `json:"phase_type" validate:"omitempty,oneof=TRIAL DISCOUNT FIXEDTERM EVERGREEN trial discount fixedterm evergreen"`
	Price     decimal.Decimal `json:"price"`
}

// ResolvePriceRequest defines the body of POST /tenants/{tenant}/prices/resolve.
type ResolvePriceRequest struct {
	PlanName          string               `json:"plan_name" validate:"required,max=255"`
	Date              time.Time            `json:"date" validate:"required"`
	SubscriptionStart *time.Time           `json:"subscription_start,omitempty"`
	Overrides         []PhasePriceOverride `json:"overrides,omitempty" validate:"omitempty,dive"`
}

// EffectiveDateRequest defines the body of POST /billing/effective-date.
type EffectiveDateRequest struct {
	Now           *time.Time `json:"now,omitempty"`
	Anchor        time.Time  `json:"anchor" validate:"required"`
	BillingPeriod string     `json:"billing_period" validate:"required,billing_period"`
	Policy        string     `json:"policy" validate:"required,billing_policy"`
}

// EffectiveDateResponse reports when an action takes effect and the period
// it falls into.
type EffectiveDateResponse struct {
	EffectiveDate time.Time  `json:"effective_date"`
	PeriodStart   time.Time  `json:"period_start"`
	PeriodEnd     *time.Time `json:"period_end,omitempty"`
}

// CreateSubscriptionRequest defines the body of POST /subscriptions.
type CreateSubscriptionRequest struct {
	Tenant             string               `json:"tenant" validate:"required,max=191"`
	PlanName           string               `json:"plan_name" validate:"required,max=255"`
	BillingPeriod      string               `json:"billing_period" validate:"required,billing_period"`
	StartDate          time.Time            `json:"start_date" validate:"required"`
	BillingCycleAnchor *time.Time           `json:"billing_cycle_anchor,omitempty"`
	PriceOverrides     []PhasePriceOverride `json:"price_overrides,omitempty" validate:"omitempty,dive"`
}

// PolicyRequest defines the body of cancel requests.
type PolicyRequest struct {
	Policy string `json:"policy" validate:"required,billing_policy"`
}

// ChangePlanRequest defines the body of POST /subscriptions/{id}/change-plan.
type ChangePlanRequest struct {
	PlanName string `json:"plan_name" validate:"required,max=255"`
	Policy   string `json:"policy" validate:"required,billing_policy"`
}

// SubscriptionResponse is the JSON form of a subscription.
type SubscriptionResponse struct {
	ID                 string                `json:"id"`
	Tenant             string                `json:"tenant"`
	PlanName           string                `json:"plan_name"`
	BillingPeriod      catalog.BillingPeriod `json:"billing_period"`
	StartDate          time.Time             `json:"start_date"`
	BillingCycleAnchor time.Time             `json:"billing_cycle_anchor"`
	CancelledDate      *time.Time            `json:"cancelled_date,omitempty"`
	CurrentPlanName    string                `json:"current_plan_name"`
	PendingPlanName    string                `json:"pending_plan_name,omitempty"`
	PendingPlanDate    *time.Time            `json:"pending_plan_date,omitempty"`
	PlanChanges        []PlanChange          `json:"plan_changes,omitempty"`
}

// PlanChange is one entry of a subscription's plan history.
type PlanChange struct {
	PlanName      string    `json:"plan_name"`
	EffectiveDate time.Time `json:"effective_date"`
}

func newSubscriptionResponse(s *subscription.Subscription, now time.Time) SubscriptionResponse {
	r := SubscriptionResponse{
		ID:                 s.ID.String(),
		Tenant:             s.Tenant,
		PlanName:           s.PlanName,
		BillingPeriod:      s.BillingPeriod,
		StartDate:          s.StartDate,
		BillingCycleAnchor: s.BillingCycleAnchor,
		CancelledDate:      s.CancelledDate,
		CurrentPlanName:    s.PlanAt(now),
	}
	if p := s.PendingPlanChange(now); p != nil {
		r.PendingPlanName = p.PlanName
		r.PendingPlanDate = &p.EffectiveDate
	}
	for _, c := range s.PlanChanges {
		r.PlanChanges = append(r.PlanChanges, PlanChange{PlanName: c.PlanName, EffectiveDate: c.EffectiveDate})
	}
	return r
}

// CatalogVersion is one span of a range resolution.
type CatalogVersion struct {
	Version       int64     `json:"version"`
	EffectiveDate time.Time `json:"effective_date"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	Plans         []string  `json:"plans"`
}

func newCatalogVersions(spans []catalog.Span) []CatalogVersion {
	out := make([]CatalogVersion, len(spans))
	for i, sp := range spans {
		plans := make([]string, len(sp.Snapshot.Plans))
		for j, p := range sp.Snapshot.Plans {
			plans[j] = p.Name
		}
		out[i] = CatalogVersion{
			Version:       sp.Snapshot.Version,
			EffectiveDate: sp.Snapshot.EffectiveDate,
			ValidFrom:     sp.ValidFrom,
			ValidTo:       sp.ValidTo,
			Plans:         plans,
		}
	}
	return out
}

// ReloadResponse reports the catalog after a reload.
type ReloadResponse struct {
	Tenant    string `json:"tenant"`
	Snapshots int    `json:"snapshots"`
	Version   int64  `json:"version,omitempty"`
}

// OverrideSummary is one stored price override.
type OverrideSummary struct {
	Fingerprint  string                   `json:"fingerprint"`
	Tenant       string                   `json:"tenant"`
	BasePlanName string                   `json:"base_plan_name"`
	PlanName     string                   `json:"plan_name"`
	Overrides    []override.OverridePoint `json:"overrides"`
	CreatedAt    time.Time                `json:"created_at"`
}

func newOverrideSummary(po *override.PriceOverride) OverrideSummary {
	return OverrideSummary{
		Fingerprint:  po.Fingerprint,
		Tenant:       po.Tenant,
		BasePlanName: po.BasePlanName,
		PlanName:     po.PlanName,
		Overrides:    po.Overrides,
		CreatedAt:    po.CreatedAt,
	}
}

func toPhaseOverrides(in []PhasePriceOverride) []override.PhasePriceOverride {
	if len(in) == 0 {
		return nil
	}
	out := make([]override.PhasePriceOverride, len(in))
	for i, o := range in {
		out[i] = override.PhasePriceOverride{
			PhaseName: o.PhaseName,
			PhaseType: catalog.PhaseType(strings.ToUpper(o.PhaseType)),
			Price:     o.Price,
		}
	}
	return out
}
