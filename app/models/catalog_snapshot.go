package models

import "time"

// CatalogSnapshot is one effective-dated catalog document of a tenant.
type CatalogSnapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Tenant        string    `gorm:"type:varchar(191);not null;index:ux_catalog_snapshots_tenant_version,unique,priority:1;index:idx_catalog_snapshots_tenant_effective,priority:1" json:"tenant"`
	Version       int64     `gorm:"not null;index:ux_catalog_snapshots_tenant_version,unique,priority:2" json:"version"`
	EffectiveDate time.Time `gorm:"type:datetime(6);not null;index:idx_catalog_snapshots_tenant_effective,priority:2" json:"effective_date"`
	DocumentJSON  string    `gorm:"type:longtext;not null" json:"document_json"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CatalogSnapshot) TableName() string {
	return "catalog_snapshots"
}
