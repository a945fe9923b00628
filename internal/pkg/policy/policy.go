// Package policy computes when a requested billing action takes effect.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

// BillingActionPolicy decides when a plan change or cancellation takes effect.
type BillingActionPolicy string

const (
	Immediate BillingActionPolicy = "IMMEDIATE"
	EndOfTerm BillingActionPolicy = "END_OF_TERM"
)

var (
	ErrUnknownPolicy        = errors.New("unknown billing action policy")
	ErrUnknownBillingPeriod = errors.New("unknown billing period")
)

// Parse normalizes a policy name such as "end_of_term".
func Parse(s string) (BillingActionPolicy, error) {
	p := BillingActionPolicy(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case Immediate, EndOfTerm:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// EffectiveDate returns the date at which an action requested at now takes
// hold. END_OF_TERM yields the first billing period boundary on or after now;
// a now that falls exactly on a boundary is returned unchanged.
func EffectiveDate(now, anchor time.Time, period catalog.BillingPeriod, policy BillingActionPolicy) (time.Time, error) {
	switch policy {
	case Immediate:
		return now, nil
	case EndOfTerm:
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	days, months, ok := period.Step()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownBillingPeriod, period)
	}
	if days == 0 && months == 0 {
		// nothing recurs, so the term is already over
		return now, nil
	}
	return firstBoundary(now, anchor, days, months), nil
}

// CurrentPeriod returns the paid-for period [start, end) that contains now.
// For NO_BILLING_PERIOD end is the zero time.
func CurrentPeriod(now, anchor time.Time, period catalog.BillingPeriod) (start, end time.Time, err error) {
	days, months, ok := period.Step()
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownBillingPeriod, period)
	}
	if days == 0 && months == 0 {
		return anchor, time.Time{}, nil
	}
	if now.Before(anchor) {
		return anchor, boundary(anchor, days, months, 1), nil
	}
	k := estimate(now, anchor, days, months)
	for !boundary(anchor, days, months, k+1).After(now) {
		k++
	}
	return boundary(anchor, days, months, k), boundary(anchor, days, months, k+1), nil
}

// boundary is the k-th period boundary. Month arithmetic always starts from
// the anchor so clamped days (Jan 31 -> Feb 29) do not drift.
func boundary(anchor time.Time, days, months, k int) time.Time {
	if months > 0 {
		return catalog.AddMonths(anchor, k*months)
	}
	return anchor.AddDate(0, 0, k*days)
}

// estimate returns a k whose boundary is not after t.
func estimate(t, anchor time.Time, days, months int) int {
	var k int
	if months > 0 {
		ay, am, _ := anchor.Date()
		ty, tm, _ := t.Date()
		k = ((ty-ay)*12+int(tm-am))/months - 1
	} else {
		k = int(t.Sub(anchor)/(time.Duration(days)*24*time.Hour)) - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// firstBoundary returns the first boundary on or after now.
func firstBoundary(now, anchor time.Time, days, months int) time.Time {
	if !now.After(anchor) {
		return anchor
	}
	for k := estimate(now, anchor, days, months); ; k++ {
		if b := boundary(anchor, days, months, k); !b.Before(now) {
			return b
		}
	}
}
