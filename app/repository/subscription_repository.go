package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanCatalog/app/models"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create stores a new subscription
func (r *subscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	m, err := subscriptionToModel(s)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// Get retrieves a subscription by its ID
func (r *subscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	var m models.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return subscriptionFromModel(&m)
}

// MarkCancelled sets the cancelled date if none is set yet
func (r *subscriptionRepository) MarkCancelled(ctx context.Context, id uuid.UUID, date time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND cancelled_date IS NULL", id.String()).
		Update("cancelled_date", date.UTC())
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ClearCancellation removes a cancellation that has not taken effect yet
func (r *subscriptionRepository) ClearCancellation(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND cancelled_date > ?", id.String(), now.UTC()).
		Update("cancelled_date", gorm.Expr("NULL"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// SwapPlanChanges replaces the plan history if it still matches prev
func (r *subscriptionRepository) SwapPlanChanges(ctx context.Context, id uuid.UUID, prev, next []subscription.PlanChange) (bool, error) {
	prevJSON, err := encodePlanChanges(prev)
	if err != nil {
		return false, err
	}
	nextJSON, err := encodePlanChanges(next)
	if err != nil {
		return false, err
	}

	q := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id.String())
	if prevJSON == "" {
		q = q.Where("(plan_changes_json IS NULL OR plan_changes_json = '')")
	} else {
		q = q.Where("plan_changes_json = ?", prevJSON)
	}
	tx := q.Update("plan_changes_json", nextJSON)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id.String()).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, subscription.ErrNotFound
	}
	return false, nil
}

func encodePlanChanges(changes []subscription.PlanChange) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}
	utc := make([]subscription.PlanChange, len(changes))
	for i, c := range changes {
		utc[i] = subscription.PlanChange{PlanName: c.PlanName, EffectiveDate: c.EffectiveDate.UTC()}
	}
	data, err := json.Marshal(utc)
	if err != nil {
		return "", fmt.Errorf("encode plan changes: %w", err)
	}
	return string(data), nil
}

func subscriptionToModel(s *subscription.Subscription) (*models.Subscription, error) {
	var overrides string
	if len(s.PriceOverrides) > 0 {
		data, err := json.Marshal(s.PriceOverrides)
		if err != nil {
			return nil, fmt.Errorf("encode price overrides of %s: %w", s.ID, err)
		}
		overrides = string(data)
	}
	changes, err := encodePlanChanges(s.PlanChanges)
	if err != nil {
		return nil, err
	}
	return &models.Subscription{
		ID:                 s.ID.String(),
		Tenant:             s.Tenant,
		PlanName:           s.PlanName,
		BillingPeriod:      string(s.BillingPeriod),
		StartDate:          s.StartDate.UTC(),
		BillingCycleAnchor: s.BillingCycleAnchor.UTC(),
		PriceOverridesJSON: overrides,
		CancelledDate:      utcPtr(s.CancelledDate),
		PlanChangesJSON:    changes,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}, nil
}

func subscriptionFromModel(m *models.Subscription) (*subscription.Subscription, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("subscription id %q: %w", m.ID, err)
	}
	var overrides []override.PhasePriceOverride
	if m.PriceOverridesJSON != "" {
		if err := json.Unmarshal([]byte(m.PriceOverridesJSON), &overrides); err != nil {
			return nil, fmt.Errorf("decode price overrides of %s: %w", m.ID, err)
		}
	}
	var changes []subscription.PlanChange
	if m.PlanChangesJSON != "" {
		if err := json.Unmarshal([]byte(m.PlanChangesJSON), &changes); err != nil {
			return nil, fmt.Errorf("decode plan changes of %s: %w", m.ID, err)
		}
	}
	return &subscription.Subscription{
		ID:                 id,
		Tenant:             m.Tenant,
		PlanName:           m.PlanName,
		BillingPeriod:      catalog.BillingPeriod(m.BillingPeriod),
		StartDate:          m.StartDate.UTC(),
		BillingCycleAnchor: m.BillingCycleAnchor.UTC(),
		PriceOverrides:     overrides,
		CancelledDate:      utcPtr(m.CancelledDate),
		PlanChanges:        changes,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
