package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/policy"
)

const maxPlanChangeAttempts = 3

// Service runs subscription lifecycle calls against a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a service using the wall clock.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock replaces the clock, for tests and replays.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new subscription. A missing ID is generated and a missing
// billing cycle anchor defaults to the start date.
func (s *Service) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	sub = sub.Clone()
	sub.PlanName = strings.TrimSpace(sub.PlanName)
	if err := sub.validate(); err != nil {
		return nil, err
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.BillingCycleAnchor.IsZero() {
		sub.BillingCycleAnchor = sub.StartDate
	}
	now := s.now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	log.Infof("[Subscription] Created %s on plan %s (tenant %s)", sub.ID, sub.PlanName, sub.Tenant)
	return sub, nil
}

// Get loads a subscription.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &Error{Err: ErrNotFound, ID: id}
		}
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

// Cancel schedules the cancellation at the date the policy yields.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, pol policy.BillingActionPolicy) (*Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.CancelledDate != nil {
		return nil, &Error{Err: ErrAlreadyCancelled, ID: id, Date: *sub.CancelledDate}
	}

	now := s.now().UTC()
	date, err := policy.EffectiveDate(now, sub.BillingCycleAnchor, sub.BillingPeriod, pol)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.MarkCancelled(ctx, id, date)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	if !ok {
		return nil, &Error{Err: ErrAlreadyCancelled, ID: id}
	}
	log.Infof("[Subscription] Cancelled %s effective %s (%s)", id, date.Format(time.RFC3339), pol)
	return s.Get(ctx, id)
}

// Uncancel clears a pending cancellation. Nothing is recomputed: the
// subscription continues as if it had never been cancelled.
func (s *Service) Uncancel(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.store.ClearCancellation(ctx, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("uncancel subscription %s: %w", id, err)
	}
	if !ok {
		return nil, &Error{Err: ErrNothingToUncancel, ID: id}
	}
	log.Infof("[Subscription] Uncancelled %s", id)
	return s.Get(ctx, id)
}

// ChangePlan moves the subscription to plan from the date the policy yields.
// The change is appended to the plan history, so earlier dates keep resolving
// to the plan that governed them. A change still pending is replaced.
func (s *Service) ChangePlan(ctx context.Context, id uuid.UUID, plan string, pol policy.BillingActionPolicy) (*Subscription, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil, fmt.Errorf("%w: plan name is required", ErrInvalid)
	}

	for attempt := 0; attempt < maxPlanChangeAttempts; attempt++ {
		sub, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if sub.CancelledAt(now) {
			return nil, &Error{Err: ErrAlreadyCancelled, ID: id, Date: *sub.CancelledDate}
		}
		date, err := policy.EffectiveDate(now, sub.BillingCycleAnchor, sub.BillingPeriod, pol)
		if err != nil {
			return nil, err
		}

		next := sub.withPlanChange(PlanChange{PlanName: plan, EffectiveDate: date}, now)
		ok, err := s.store.SwapPlanChanges(ctx, id, sub.PlanChanges, next)
		if err != nil {
			return nil, fmt.Errorf("change plan of subscription %s: %w", id, err)
		}
		if ok {
			log.Infof("[Subscription] Plan of %s changes to %s effective %s", id, plan, date.Format(time.RFC3339))
			return s.Get(ctx, id)
		}
		log.Debugf("[Subscription] Plan history of %s changed concurrently, retrying", id)
	}
	return nil, &Error{Err: ErrConcurrentChange, ID: id}
}
