package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoApplicableCatalogVersion is returned when a date precedes every snapshot.
	ErrNoApplicableCatalogVersion = errors.New("no applicable catalog version")
	// ErrPlanNotFound is returned when the resolved snapshot has no such plan.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidRange is returned by ResolveRange when to is not after from.
	ErrInvalidRange = errors.New("invalid date range")
)

// Error carries the resolution context of a catalog failure.
type Error struct {
	Err    error
	Tenant string
	Date   time.Time
	Plan   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	fmt.Fprintf(&b, " (tenant=%s", e.Tenant)
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " date=%s", e.Date.UTC().Format(time.RFC3339))
	}
	if e.Plan != "" {
		fmt.Fprintf(&b, " plan=%s", e.Plan)
	}
	b.WriteString(")")
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
