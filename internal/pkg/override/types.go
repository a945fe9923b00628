package override

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

var (
	// ErrNotFound is returned by stores when no override has the fingerprint.
	ErrNotFound = errors.New("price override not found")
	// ErrOverrideCreationConflict marks a lost insert race. The registry
	// recovers from it by re-reading the stored record.
	ErrOverrideCreationConflict = errors.New("price override creation conflict")
	// ErrEmptyOverride is returned when no phase price is overridden.
	ErrEmptyOverride = errors.New("price override has no phase prices")
	// ErrUnknownPhase is returned when an override targets a phase the base plan lacks.
	ErrUnknownPhase = errors.New("price override targets unknown phase")
	// ErrDuplicatePhaseOverride is returned when one phase is overridden twice.
	ErrDuplicatePhaseOverride = errors.New("phase overridden more than once")
	// ErrFingerprintCollision is returned when a stored record with the same
	// fingerprint belongs to another base plan.
	ErrFingerprintCollision = errors.New("price override fingerprint collision")
)

// Error carries the context of an override failure.
type Error struct {
	Err         error
	Tenant      string
	Plan        string
	Phase       string
	Fingerprint string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	fmt.Fprintf(&b, " (tenant=%s plan=%s", e.Tenant, e.Plan)
	if e.Phase != "" {
		fmt.Fprintf(&b, " phase=%s", e.Phase)
	}
	if e.Fingerprint != "" {
		fmt.Fprintf(&b, " fingerprint=%s", e.Fingerprint)
	}
	b.WriteString(")")
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PhasePriceOverride is a requested price for one phase. The phase is named
// either directly or by its type.
type PhasePriceOverride struct {
	PhaseName string            `json:"phase_name,omitempty"`
	PhaseType catalog.PhaseType `json:"phase_type,omitempty"`
	Price     decimal.Decimal   `json:"price"`
}

// OverridePoint is a normalized (phase name, price) pair.
type OverridePoint struct {
	PhaseName string          `json:"phase_name"`
	Price     decimal.Decimal `json:"price"`
}

// PriceOverride is the persisted record of one override combination.
type PriceOverride struct {
	Fingerprint  string
	Tenant       string
	BasePlanName string
	Overrides    []OverridePoint
	PlanName     string
	CreatedAt    time.Time
}

// OverriddenPlan is a base plan with the override prices applied.
type OverriddenPlan struct {
	catalog.Plan
	BasePlanName      string
	Fingerprint       string
	SnapshotVersion   int64
	SnapshotEffective time.Time
}

// Normalize resolves every requested phase against the base plan and returns
// the pairs sorted by phase name.
func Normalize(tenant string, base *catalog.Plan, reqs []PhasePriceOverride) ([]OverridePoint, error) {
	if len(reqs) == 0 {
		return nil, &Error{Err: ErrEmptyOverride, Tenant: tenant, Plan: base.Name}
	}
	points := make([]OverridePoint, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		var (
			ph *catalog.Phase
			ok bool
		)
		switch {
		case r.PhaseName != "":
			ph, ok = base.Phase(r.PhaseName)
		case r.PhaseType != "":
			ph, ok = base.PhaseByType(catalog.PhaseType(strings.ToUpper(string(r.PhaseType))))
		}
		if !ok {
			ref := r.PhaseName
			if ref == "" {
				ref = string(r.PhaseType)
			}
			return nil, &Error{Err: ErrUnknownPhase, Tenant: tenant, Plan: base.Name, Phase: ref}
		}
		if _, dup := seen[ph.Name]; dup {
			return nil, &Error{Err: ErrDuplicatePhaseOverride, Tenant: tenant, Plan: base.Name, Phase: ph.Name}
		}
		seen[ph.Name] = struct{}{}
		points = append(points, OverridePoint{PhaseName: ph.Name, Price: r.Price})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].PhaseName < points[j].PhaseName })
	return points, nil
}

// Fingerprint hashes a base plan name and normalized override pairs.
// Prices are written in canonical form so 10 and 10.00 hash the same.
func Fingerprint(basePlan string, points []OverridePoint) string {
	h := sha256.New()
	h.Write([]byte(basePlan))
	h.Write([]byte{0})
	for _, p := range points {
		h.Write([]byte(p.PhaseName))
		h.Write([]byte{'='})
		h.Write([]byte(p.Price.String()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Materialize applies a stored override to a base plan of snapshot s.
func Materialize(s *catalog.Snapshot, base *catalog.Plan, po *PriceOverride) *OverriddenPlan {
	plan := base.Clone()
	plan.Name = po.PlanName
	for _, pt := range po.Overrides {
		for i := range plan.Phases {
			if plan.Phases[i].Name == pt.PhaseName {
				plan.Phases[i].Price = pt.Price
			}
		}
	}
	return &OverriddenPlan{
		Plan:              plan,
		BasePlanName:      base.Name,
		Fingerprint:       po.Fingerprint,
		SnapshotVersion:   s.Version,
		SnapshotEffective: s.EffectiveDate,
	}
}
