package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

// PriceOverrideRepository defines the database operations on price overrides
type PriceOverrideRepository interface {
	override.Store
	GetByPlanName(ctx context.Context, planName string) (*override.PriceOverride, error)
	ListByTenant(ctx context.Context, tenant string, offset, limit int) ([]*override.PriceOverride, error)
	ResolutionCount(ctx context.Context, fingerprint string) (int64, error)
}

// CatalogSnapshotRepository stores catalog documents and serves them as a
// snapshot source
type CatalogSnapshotRepository interface {
	catalog.SnapshotSource
	// Append stores a document as the tenant's next version.
	Append(ctx context.Context, tenant string, document []byte) (*catalog.Snapshot, error)
	Tenants(ctx context.Context) ([]string, error)
}

// SubscriptionRepository defines the database operations on subscriptions
type SubscriptionRepository interface {
	subscription.Store
}

// Repositories struct holds all repository instances
type Repositories struct {
	PriceOverride   PriceOverrideRepository
	CatalogSnapshot CatalogSnapshotRepository
	Subscription    SubscriptionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PriceOverride:   NewPriceOverrideRepository(db),
		CatalogSnapshot: NewCatalogSnapshotRepository(db),
		Subscription:    NewSubscriptionRepository(db),
	}
}
