package models

import "time"

// Subscription holds the fields catalog resolution reads from a subscription.
// A cancelled_date in the future is a pending cancellation. Dates keep
// microseconds so an immediate cancellation never lands after now.
type Subscription struct {
	ID                 string     `gorm:"type:char(36);primaryKey" json:"id"`
	Tenant             string     `gorm:"type:varchar(191);not null;index" json:"tenant"`
	PlanName           string     `gorm:"type:varchar(255);not null" json:"plan_name"`
	BillingPeriod      string     `gorm:"type:varchar(32);not null" json:"billing_period"`
	StartDate          time.Time  `gorm:"type:datetime(6);not null" json:"start_date"`
	BillingCycleAnchor time.Time  `gorm:"type:datetime(6);not null" json:"billing_cycle_anchor"`
	PriceOverridesJSON string     `gorm:"type:text" json:"price_overrides_json"`
	CancelledDate      *time.Time `gorm:"type:datetime(6);default:null;index" json:"cancelled_date,omitempty"`
	PlanChangesJSON    string     `gorm:"type:text" json:"plan_changes_json"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
