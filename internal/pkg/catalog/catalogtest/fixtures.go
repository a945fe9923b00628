// Package catalogtest builds small catalogs for tests.
package catalogtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

// Date returns midnight UTC of the given day.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ShotgunMonthly is a monthly plan with a 30 day trial priced at trialPrice
// followed by an evergreen phase priced at evergreenPrice.
func ShotgunMonthly(trialPrice, evergreenPrice int64) catalog.Plan {
	return catalog.Plan{
		Name:          "shotgun-monthly",
		Product:       "Shotgun",
		BillingPeriod: catalog.BillingPeriodMonthly,
		Phases: []catalog.Phase{
			{
				Type:     catalog.PhaseTrial,
				Duration: catalog.Duration{Unit: catalog.UnitDays, Number: 30},
				Price:    decimal.NewFromInt(trialPrice),
			},
			{
				Type:     catalog.PhaseEvergreen,
				Duration: catalog.Duration{Unit: catalog.UnitUnlimited},
				Price:    decimal.NewFromInt(evergreenPrice),
			},
		},
	}
}

// AssaultRifleMonthly is a second monthly plan without trial.
func AssaultRifleMonthly(price int64) catalog.Plan {
	return catalog.Plan{
		Name:          "assault-rifle-monthly",
		Product:       "Assault-Rifle",
		BillingPeriod: catalog.BillingPeriodMonthly,
		Phases: []catalog.Phase{
			{
				Type:     catalog.PhaseEvergreen,
				Duration: catalog.Duration{Unit: catalog.UnitUnlimited},
				Price:    decimal.NewFromInt(price),
			},
		},
	}
}

// Products returns the products referenced by the fixture plans.
func Products() []catalog.Product {
	return []catalog.Product{
		{Name: "Shotgun", Category: catalog.CategoryBase},
		{Name: "Assault-Rifle", Category: catalog.CategoryBase},
	}
}

// Snapshot builds a snapshot and panics on invalid input.
func Snapshot(tenant string, effective time.Time, version int64, plans ...catalog.Plan) *catalog.Snapshot {
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Name
	}
	s, err := catalog.NewSnapshot(tenant, effective, version, Products(), plans,
		[]catalog.PriceList{{Name: catalog.DefaultPriceList, Plans: names}})
	if err != nil {
		panic(err)
	}
	return s
}
