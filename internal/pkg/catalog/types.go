package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod is the recurring interval a plan is billed on.
type BillingPeriod string

const (
	BillingPeriodDaily        BillingPeriod = "DAILY"
	BillingPeriodWeekly       BillingPeriod = "WEEKLY"
	BillingPeriodBiweekly     BillingPeriod = "BIWEEKLY"
	BillingPeriodThirtyDays   BillingPeriod = "THIRTY_DAYS"
	BillingPeriodSixtyDays    BillingPeriod = "SIXTY_DAYS"
	BillingPeriodNinetyDays   BillingPeriod = "NINETY_DAYS"
	BillingPeriodMonthly      BillingPeriod = "MONTHLY"
	BillingPeriodBimestrial   BillingPeriod = "BIMESTRIAL"
	BillingPeriodQuarterly    BillingPeriod = "QUARTERLY"
	BillingPeriodTriannual    BillingPeriod = "TRIANNUAL"
	BillingPeriodBiannual     BillingPeriod = "BIANNUAL"
	BillingPeriodAnnual       BillingPeriod = "ANNUAL"
	BillingPeriodSesquiennial BillingPeriod = "SESQUIENNIAL"
	BillingPeriodBiennial     BillingPeriod = "BIENNIAL"
	BillingPeriodTriennial    BillingPeriod = "TRIENNIAL"
	BillingPeriodNone         BillingPeriod = "NO_BILLING_PERIOD"
)

// periodSteps maps a billing period to its length as (days, months).
var periodSteps = map[BillingPeriod][2]int{
	BillingPeriodDaily:        {1, 0},
	BillingPeriodWeekly:       {7, 0},
	BillingPeriodBiweekly:     {14, 0},
	BillingPeriodThirtyDays:   {30, 0},
	BillingPeriodSixtyDays:    {60, 0},
	BillingPeriodNinetyDays:   {90, 0},
	BillingPeriodMonthly:      {0, 1},
	BillingPeriodBimestrial:   {0, 2},
	BillingPeriodQuarterly:    {0, 3},
	BillingPeriodTriannual:    {0, 4},
	BillingPeriodBiannual:     {0, 6},
	BillingPeriodAnnual:       {0, 12},
	BillingPeriodSesquiennial: {0, 18},
	BillingPeriodBiennial:     {0, 24},
	BillingPeriodTriennial:    {0, 36},
	BillingPeriodNone:         {0, 0},
}

// Step returns the length of the period in days or months. Exactly one of the
// two values is non-zero, except for NO_BILLING_PERIOD where both are zero.
func (p BillingPeriod) Step() (days, months int, ok bool) {
	s, ok := periodSteps[p]
	return s[0], s[1], ok
}

// Valid reports whether p is a known billing period.
func (p BillingPeriod) Valid() bool {
	_, ok := periodSteps[p]
	return ok
}

// ParseBillingPeriod normalizes user input such as "monthly" or "Annual".
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	p := BillingPeriod(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown billing period %q", s)
	}
	return p, nil
}

// PhaseType is the lifecycle stage a phase represents.
type PhaseType string

const (
	PhaseTrial     PhaseType = "TRIAL"
	PhaseDiscount  PhaseType = "DISCOUNT"
	PhaseFixedTerm PhaseType = "FIXEDTERM"
	PhaseEvergreen PhaseType = "EVERGREEN"
)

// ProductCategory classifies products.
type ProductCategory string

const (
	CategoryBase       ProductCategory = "BASE"
	CategoryAddOn      ProductCategory = "ADD_ON"
	CategoryStandalone ProductCategory = "STANDALONE"
)

// DurationUnit is the unit of a phase duration.
type DurationUnit string

const (
	UnitDays      DurationUnit = "DAYS"
	UnitWeeks     DurationUnit = "WEEKS"
	UnitMonths    DurationUnit = "MONTHS"
	UnitYears     DurationUnit = "YEARS"
	UnitUnlimited DurationUnit = "UNLIMITED"
)

// Duration is how long a phase lasts.
type Duration struct {
	Unit   DurationUnit `json:"unit"`
	Number int          `json:"number"`
}

// Unlimited reports whether the duration never ends.
func (d Duration) Unlimited() bool {
	return d.Unit == UnitUnlimited || d.Unit == ""
}

// AddTo returns t shifted by the duration. The second value is false for an
// unlimited duration.
func (d Duration) AddTo(t time.Time) (time.Time, bool) {
	switch d.Unit {
	case UnitDays:
		return t.AddDate(0, 0, d.Number), true
	case UnitWeeks:
		return t.AddDate(0, 0, 7*d.Number), true
	case UnitMonths:
		return AddMonths(t, d.Number), true
	case UnitYears:
		return AddMonths(t, 12*d.Number), true
	default:
		return time.Time{}, false
	}
}

// AddMonths adds n months to t, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Phase is one stage of a plan together with its price point.
type Phase struct {
	Name     string          `json:"name"`
	Type     PhaseType       `json:"type"`
	Duration Duration        `json:"duration"`
	Price    decimal.Decimal `json:"price"`
}

// Product is a sellable product.
type Product struct {
	Name     string          `json:"name"`
	Category ProductCategory `json:"category"`
}

// Plan is a named combination of product, billing period and phases.
type Plan struct {
	Name          string        `json:"name"`
	Product       string        `json:"product"`
	BillingPeriod BillingPeriod `json:"billing_period"`
	Phases        []Phase       `json:"phases"`
}

// Phase looks up a phase by name.
func (p *Plan) Phase(name string) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// PhaseByType returns the first phase of the given type.
func (p *Plan) PhaseByType(t PhaseType) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].Type == t {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// Prices returns the ordered price points of the plan, one per phase.
func (p *Plan) Prices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(p.Phases))
	for i, ph := range p.Phases {
		out[i] = ph.Price
	}
	return out
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() Plan {
	c := *p
	c.Phases = append([]Phase(nil), p.Phases...)
	return c
}

// PhaseAt returns the index of the phase in effect at date for a
// subscription that started at start. Dates before start map to the first
// phase; dates past every finite phase map to the last one.
func (p *Plan) PhaseAt(start, date time.Time) int {
	if len(p.Phases) == 0 {
		return -1
	}
	cursor := start
	for i, ph := range p.Phases {
		end, finite := ph.Duration.AddTo(cursor)
		if !finite || date.Before(end) {
			return i
		}
		cursor = end
	}
	return len(p.Phases) - 1
}

// PriceList groups plan names under a list name.
type PriceList struct {
	Name  string   `json:"name"`
	Plans []string `json:"plans"`
}

// DefaultPriceList is the price list every plan belongs to unless stated otherwise.
const DefaultPriceList = "DEFAULT"
