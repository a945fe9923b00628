package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PlanCatalog/app/models"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
)

// priceOverrideRepository implements the PriceOverrideRepository interface
type priceOverrideRepository struct {
	db *gorm.DB
}

// NewPriceOverrideRepository creates a new price override repository instance
func NewPriceOverrideRepository(db *gorm.DB) PriceOverrideRepository {
	return &priceOverrideRepository{db: db}
}

// GetByFingerprint retrieves an override by its fingerprint
func (r *priceOverrideRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*override.PriceOverride, error) {
	var m models.PriceOverride
	err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, override.ErrNotFound
		}
		return nil, err
	}
	return priceOverrideFromModel(&m)
}

// GetByPlanName retrieves an override by its generated plan name
func (r *priceOverrideRepository) GetByPlanName(ctx context.Context, planName string) (*override.PriceOverride, error) {
	var m models.PriceOverride
	err := r.db.WithContext(ctx).Where("plan_name = ?", planName).Order("created_at ASC").First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, override.ErrNotFound
		}
		return nil, err
	}
	return priceOverrideFromModel(&m)
}

// InsertIfAbsent inserts the override unless its fingerprint exists and
// returns the stored row either way
func (r *priceOverrideRepository) InsertIfAbsent(ctx context.Context, po *override.PriceOverride) (bool, *override.PriceOverride, error) {
	m, err := priceOverrideToModel(po)
	if err != nil {
		return false, nil, err
	}

	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoNothing: true,
	}).Create(m)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PriceOverride
	if err := db.Where("fingerprint = ?", po.Fingerprint).First(&stored).Error; err != nil {
		return false, nil, err
	}
	out, err := priceOverrideFromModel(&stored)
	if err != nil {
		return false, nil, err
	}
	return created, out, nil
}

// ListByTenant lists the overrides a tenant created, newest first
func (r *priceOverrideRepository) ListByTenant(ctx context.Context, tenant string, offset, limit int) ([]*override.PriceOverride, error) {
	var rows []models.PriceOverride
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*override.PriceOverride, 0, len(rows))
	for i := range rows {
		po, err := priceOverrideFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, nil
}

// ResolutionCount returns how often the override was resolved, as flushed
// from the counters
func (r *priceOverrideRepository) ResolutionCount(ctx context.Context, fingerprint string) (int64, error) {
	var m models.PriceOverride
	err := r.db.WithContext(ctx).Select("resolution_count").Where("fingerprint = ?", fingerprint).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, override.ErrNotFound
		}
		return 0, err
	}
	return m.ResolutionCount, nil
}

func priceOverrideToModel(po *override.PriceOverride) (*models.PriceOverride, error) {
	data, err := json.Marshal(po.Overrides)
	if err != nil {
		return nil, fmt.Errorf("encode overrides of %s: %w", po.Fingerprint, err)
	}
	return &models.PriceOverride{
		Fingerprint:   po.Fingerprint,
		Tenant:        po.Tenant,
		BasePlanName:  po.BasePlanName,
		OverridesJSON: string(data),
		PlanName:      po.PlanName,
		CreatedAt:     po.CreatedAt,
	}, nil
}

func priceOverrideFromModel(m *models.PriceOverride) (*override.PriceOverride, error) {
	var points []override.OverridePoint
	if err := json.Unmarshal([]byte(m.OverridesJSON), &points); err != nil {
		return nil, fmt.Errorf("decode overrides of %s: %w", m.Fingerprint, err)
	}
	return &override.PriceOverride{
		Fingerprint:  m.Fingerprint,
		Tenant:       m.Tenant,
		BasePlanName: m.BasePlanName,
		Overrides:    points,
		PlanName:     m.PlanName,
		CreatedAt:    m.CreatedAt.UTC(),
	}, nil
}
