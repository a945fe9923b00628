package catalog

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// VersionedCatalog is the ordered, immutable set of snapshots for one tenant.
// Effective dates are strictly increasing.
type VersionedCatalog struct {
	Tenant    string
	snapshots []*Snapshot
}

// NewVersionedCatalog orders the snapshots by effective date. When two
// snapshots share an effective date the one with the higher Version (loaded
// later) is kept and the collision is logged.
func NewVersionedCatalog(tenant string, snapshots ...*Snapshot) *VersionedCatalog {
	sorted := make([]*Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s != nil {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].EffectiveDate.Equal(sorted[j].EffectiveDate) {
			return sorted[i].EffectiveDate.Before(sorted[j].EffectiveDate)
		}
		return sorted[i].Version < sorted[j].Version
	})

	out := make([]*Snapshot, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].EffectiveDate.Equal(s.EffectiveDate) {
			log.Warnf("[Catalog] Tenant %s has duplicate snapshots effective %s (versions %d and %d); keeping version %d",
				tenant, s.EffectiveDate.Format(time.RFC3339), out[n-1].Version, s.Version, s.Version)
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return &VersionedCatalog{Tenant: tenant, snapshots: out}
}

// Snapshots returns the ordered snapshots. The slice must not be modified.
func (vc *VersionedCatalog) Snapshots() []*Snapshot {
	return vc.snapshots
}

// Len returns the number of snapshots.
func (vc *VersionedCatalog) Len() int {
	if vc == nil {
		return 0
	}
	return len(vc.snapshots)
}

// indexAt returns the index of the snapshot governing date, or -1.
func (vc *VersionedCatalog) indexAt(date time.Time) int {
	// first snapshot strictly after date, minus one
	i := sort.Search(len(vc.snapshots), func(i int) bool {
		return vc.snapshots[i].EffectiveDate.After(date)
	})
	return i - 1
}

// Resolve returns the snapshot with the greatest effective date on or before date.
func Resolve(vc *VersionedCatalog, date time.Time) (*Snapshot, error) {
	if vc.Len() == 0 {
		return nil, &Error{Err: ErrNoApplicableCatalogVersion, Tenant: tenantOf(vc), Date: date}
	}
	i := vc.indexAt(date)
	if i < 0 {
		return nil, &Error{Err: ErrNoApplicableCatalogVersion, Tenant: vc.Tenant, Date: date}
	}
	return vc.snapshots[i], nil
}

// Span is the part of a date range governed by one snapshot: [ValidFrom, ValidTo).
type Span struct {
	Snapshot  *Snapshot
	ValidFrom time.Time
	ValidTo   time.Time
}

// ResolveRange partitions [from, to) across the snapshots in effect during it.
func ResolveRange(vc *VersionedCatalog, from, to time.Time) ([]Span, error) {
	if !to.After(from) {
		return nil, &Error{Err: ErrInvalidRange, Tenant: tenantOf(vc), Date: from}
	}
	if vc.Len() == 0 {
		return nil, &Error{Err: ErrNoApplicableCatalogVersion, Tenant: tenantOf(vc), Date: from}
	}
	i := vc.indexAt(from)
	if i < 0 {
		return nil, &Error{Err: ErrNoApplicableCatalogVersion, Tenant: vc.Tenant, Date: from}
	}

	var spans []Span
	cursor := from
	for ; i < len(vc.snapshots) && cursor.Before(to); i++ {
		end := to
		if i+1 < len(vc.snapshots) && vc.snapshots[i+1].EffectiveDate.Before(to) {
			end = vc.snapshots[i+1].EffectiveDate
		}
		spans = append(spans, Span{Snapshot: vc.snapshots[i], ValidFrom: cursor, ValidTo: end})
		cursor = end
	}
	return spans, nil
}

func tenantOf(vc *VersionedCatalog) string {
	if vc == nil {
		return ""
	}
	return vc.Tenant
}
