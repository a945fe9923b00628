// Package subscription implements the lifecycle calls that feed dates into
// catalog resolution: cancel, uncancel and plan changes.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
)

var (
	ErrNotFound          = errors.New("subscription not found")
	ErrAlreadyCancelled  = errors.New("subscription already cancelled")
	ErrNothingToUncancel = errors.New("nothing to uncancel")
	ErrInvalid           = errors.New("invalid subscription")
	ErrConcurrentChange  = errors.New("subscription changed concurrently")
)

// Error carries the subscription a lifecycle call failed for.
type Error struct {
	Err error
	ID  uuid.UUID
	// Date is the relevant cancellation or change date, if any.
	Date time.Time
}

func (e *Error) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("%s (subscription=%s)", e.Err, e.ID)
	}
	return fmt.Sprintf("%s (subscription=%s date=%s)", e.Err, e.ID, e.Date.Format(time.RFC3339))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Subscription is the part of a subscription catalog resolution cares about.
type Subscription struct {
	ID     uuid.UUID
	Tenant string
	// PlanName is the plan the subscription started on. PriceOverrides were
	// negotiated for it and never carry over to a later plan.
	PlanName           string
	BillingPeriod      catalog.BillingPeriod
	StartDate          time.Time
	BillingCycleAnchor time.Time
	PriceOverrides     []override.PhasePriceOverride

	// CancelledDate is set once a cancellation was requested. A date in the
	// future is a pending cancellation that Uncancel can still revert.
	CancelledDate *time.Time

	// PlanChanges is ordered by EffectiveDate. Entries after now are pending.
	PlanChanges []PlanChange

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlanChange switches the subscription to PlanName from EffectiveDate on.
type PlanChange struct {
	PlanName      string    `json:"plan_name"`
	EffectiveDate time.Time `json:"effective_date"`
}

// PlanPeriod is the plan governing a date. Since is where its phases start.
type PlanPeriod struct {
	PlanName string
	Since    time.Time
	// Changed is false while the plan the subscription started on governs.
	Changed bool
}

// PeriodAt returns the plan period date falls into.
func (s *Subscription) PeriodAt(date time.Time) PlanPeriod {
	p := PlanPeriod{PlanName: s.PlanName, Since: s.StartDate}
	for _, c := range s.PlanChanges {
		if date.Before(c.EffectiveDate) {
			break
		}
		p = PlanPeriod{PlanName: c.PlanName, Since: c.EffectiveDate, Changed: true}
	}
	return p
}

// PlanAt returns the plan name governing date.
func (s *Subscription) PlanAt(date time.Time) string {
	return s.PeriodAt(date).PlanName
}

// PendingPlanChange returns the change scheduled after now, if any.
func (s *Subscription) PendingPlanChange(now time.Time) *PlanChange {
	if n := len(s.PlanChanges); n > 0 && s.PlanChanges[n-1].EffectiveDate.After(now) {
		c := s.PlanChanges[n-1]
		return &c
	}
	return nil
}

// withPlanChange returns the history with c appended. A change still pending
// at now, or one at or after c, is superseded by c.
func (s *Subscription) withPlanChange(c PlanChange, now time.Time) []PlanChange {
	out := make([]PlanChange, 0, len(s.PlanChanges)+1)
	for _, prev := range s.PlanChanges {
		if prev.EffectiveDate.After(now) || !prev.EffectiveDate.Before(c.EffectiveDate) {
			continue
		}
		out = append(out, prev)
	}
	return append(out, c)
}

// CancelledAt reports whether the subscription is cancelled at date.
func (s *Subscription) CancelledAt(date time.Time) bool {
	return s.CancelledDate != nil && !date.Before(*s.CancelledDate)
}

// PendingCancellation reports whether a cancellation is scheduled after now.
func (s *Subscription) PendingCancellation(now time.Time) bool {
	return s.CancelledDate != nil && s.CancelledDate.After(now)
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.PriceOverrides = append([]override.PhasePriceOverride(nil), s.PriceOverrides...)
	if s.CancelledDate != nil {
		d := *s.CancelledDate
		c.CancelledDate = &d
	}
	c.PlanChanges = append([]PlanChange(nil), s.PlanChanges...)
	return &c
}

func (s *Subscription) validate() error {
	switch {
	case s.Tenant == "":
		return fmt.Errorf("%w: tenant is required", ErrInvalid)
	case s.PlanName == "":
		return fmt.Errorf("%w: plan name is required", ErrInvalid)
	case !s.BillingPeriod.Valid():
		return fmt.Errorf("%w: unknown billing period %q", ErrInvalid, s.BillingPeriod)
	case s.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", ErrInvalid)
	}
	return nil
}
