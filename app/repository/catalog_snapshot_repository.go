package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanCatalog/app/models"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

// catalogSnapshotRepository implements the CatalogSnapshotRepository interface
type catalogSnapshotRepository struct {
	db *gorm.DB
}

// NewCatalogSnapshotRepository creates a new catalog snapshot repository instance
func NewCatalogSnapshotRepository(db *gorm.DB) CatalogSnapshotRepository {
	return &catalogSnapshotRepository{db: db}
}

// LoadSnapshots returns every snapshot of a tenant ordered by effective date
func (r *catalogSnapshotRepository) LoadSnapshots(ctx context.Context, tenant string) ([]*catalog.Snapshot, error) {
	var rows []models.CatalogSnapshot
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("effective_date ASC, version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*catalog.Snapshot, 0, len(rows))
	for _, row := range rows {
		s, err := catalog.DecodeSnapshot(row.Tenant, row.Version, []byte(row.DocumentJSON))
		if err != nil {
			return nil, fmt.Errorf("catalog snapshot %d: %w", row.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Append validates a document and stores it with the next version number
func (r *catalogSnapshotRepository) Append(ctx context.Context, tenant string, document []byte) (*catalog.Snapshot, error) {
	if _, err := catalog.DecodeSnapshot(tenant, 0, document); err != nil {
		return nil, err
	}

	var snapshot *catalog.Snapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int64
		if err := tx.Model(&models.CatalogSnapshot{}).
			Where("tenant = ?", tenant).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error; err != nil {
			return err
		}

		s, err := catalog.DecodeSnapshot(tenant, latest+1, document)
		if err != nil {
			return err
		}
		row := &models.CatalogSnapshot{
			Tenant:        tenant,
			Version:       s.Version,
			EffectiveDate: s.EffectiveDate,
			DocumentJSON:  string(document),
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Tenants lists every tenant that has at least one snapshot
func (r *catalogSnapshotRepository) Tenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.WithContext(ctx).
		Model(&models.CatalogSnapshot{}).
		Distinct("tenant").
		Order("tenant ASC").
		Pluck("tenant", &tenants).Error
	return tenants, err
}
