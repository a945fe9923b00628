package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot is one immutable, effective-dated version of a tenant catalog.
// Fields must not be modified after NewSnapshot returns.
type Snapshot struct {
	Tenant        string
	EffectiveDate time.Time
	// Version orders snapshots by load time; higher means loaded later.
	Version    int64
	Products   []Product
	Plans      []Plan
	PriceLists []PriceList

	plans    map[string]*Plan
	products map[string]*Product
}

// NewSnapshot validates the definitions and builds the name indexes.
func NewSnapshot(tenant string, effective time.Time, version int64, products []Product, plans []Plan, priceLists []PriceList) (*Snapshot, error) {
	s := &Snapshot{
		Tenant:        tenant,
		EffectiveDate: effective.UTC(),
		Version:       version,
		Products:      append([]Product(nil), products...),
		Plans:         make([]Plan, len(plans)),
		PriceLists:    append([]PriceList(nil), priceLists...),
		plans:         make(map[string]*Plan, len(plans)),
		products:      make(map[string]*Product, len(products)),
	}

	for i := range s.Products {
		p := &s.Products[i]
		if _, dup := s.products[p.Name]; dup {
			return nil, fmt.Errorf("catalog %s@%s: duplicate product %q", tenant, s.EffectiveDate.Format(time.RFC3339), p.Name)
		}
		s.products[p.Name] = p
	}

	for i, in := range plans {
		p := in.Clone()
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("catalog %s@%s: plan #%d has no name", tenant, s.EffectiveDate.Format(time.RFC3339), i)
		}
		if _, dup := s.plans[p.Name]; dup {
			return nil, fmt.Errorf("catalog %s@%s: duplicate plan %q", tenant, s.EffectiveDate.Format(time.RFC3339), p.Name)
		}
		if len(s.products) > 0 && p.Product != "" {
			if _, ok := s.products[p.Product]; !ok {
				return nil, fmt.Errorf("catalog %s@%s: plan %q references unknown product %q", tenant, s.EffectiveDate.Format(time.RFC3339), p.Name, p.Product)
			}
		}
		if p.BillingPeriod == "" {
			p.BillingPeriod = BillingPeriodNone
		}
		if !p.BillingPeriod.Valid() {
			return nil, fmt.Errorf("catalog %s@%s: plan %q has unknown billing period %q", tenant, s.EffectiveDate.Format(time.RFC3339), p.Name, p.BillingPeriod)
		}
		seen := make(map[string]struct{}, len(p.Phases))
		for j := range p.Phases {
			ph := &p.Phases[j]
			if ph.Name == "" {
				ph.Name = p.Name + "-" + strings.ToLower(string(ph.Type))
			}
			if _, dup := seen[ph.Name]; dup {
				return nil, fmt.Errorf("catalog %s@%s: plan %q has duplicate phase %q", tenant, s.EffectiveDate.Format(time.RFC3339), p.Name, ph.Name)
			}
			seen[ph.Name] = struct{}{}
		}
		s.Plans[i] = p
		s.plans[p.Name] = &s.Plans[i]
	}
	return s, nil
}

// Plan looks up a plan by name.
func (s *Snapshot) Plan(name string) (*Plan, bool) {
	p, ok := s.plans[name]
	return p, ok
}

// Product looks up a product by name.
func (s *Snapshot) Product(name string) (*Product, bool) {
	p, ok := s.products[name]
	return p, ok
}

// Document is the serialized form of a snapshot as stored in the database or
// in an object store.
type Document struct {
	EffectiveDate time.Time   `json:"effective_date"`
	Products      []Product   `json:"products"`
	Plans         []Plan      `json:"plans"`
	PriceLists    []PriceList `json:"price_lists"`
}

// DecodeSnapshot builds a snapshot from its JSON document.
func DecodeSnapshot(tenant string, version int64, data []byte) (*Snapshot, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog document: %w", err)
	}
	if doc.EffectiveDate.IsZero() {
		return nil, fmt.Errorf("decode catalog document: effective_date is required")
	}
	return NewSnapshot(tenant, doc.EffectiveDate, version, doc.Products, doc.Plans, doc.PriceLists)
}

// Encode serializes the snapshot definitions.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(Document{
		EffectiveDate: s.EffectiveDate,
		Products:      s.Products,
		Plans:         s.Plans,
		PriceLists:    s.PriceLists,
	})
}
