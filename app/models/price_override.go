package models

import "time"

// PriceOverride stores one override combination. The fingerprint is the
// primary key so concurrent inserts of the same combination collapse into
// one row.
type PriceOverride struct {
	Fingerprint     string    `gorm:"type:char(64);primaryKey" json:"fingerprint"`
	Tenant          string    `gorm:"type:varchar(191);not null;index" json:"tenant"`
	BasePlanName    string    `gorm:"type:varchar(191);not null;index" json:"base_plan_name"`
	OverridesJSON   string    `gorm:"type:text;not null" json:"overrides_json"`
	PlanName        string    `gorm:"type:varchar(255);not null;index" json:"plan_name"`
	ResolutionCount int64     `gorm:"not null;default:0" json:"resolution_count"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PriceOverride) TableName() string {
	return "price_overrides"
}
